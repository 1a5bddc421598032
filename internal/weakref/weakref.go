// Package weakref tracks live Go values by object identity without keeping
// them alive.
//
// Only non-nil pointers to heap objects of non-zero size are weakly
// referenceable. Everything else (scalars, strings, slices, maps, structs
// passed by value) is reported as untrackable and callers degrade to
// "not tracked".
package weakref

import (
	"reflect"
	"runtime"
	"sync"
	"unsafe"
	"weak"
)

// Handle is the comparable object identity of a tracked value: the address
// it points at and the type stored there. Two handles made from the same live
// object compare equal; a handle never matches a different object, even one
// later allocated at the same address. A struct and its first field share an
// address but not a type, so &s and &s.First get distinct handles.
type Handle struct {
	p weak.Pointer[byte]
	t reflect.Type
}

func handle(p unsafe.Pointer, typ reflect.Type) Handle {
	return Handle{p: weak.Make((*byte)(p)), t: typ.Elem()}
}

// Ref is a weak reference to a value held behind a pointer.
type Ref struct {
	h   Handle
	typ reflect.Type
}

func pointerOf(v any) (unsafe.Pointer, reflect.Type, bool) {
	if v == nil {
		return nil, nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, nil, false
	}
	if rv.Type().Elem().Size() == 0 {
		return nil, nil, false
	}
	return rv.UnsafePointer(), rv.Type(), true
}

// Trackable reports whether v can be weakly referenced.
func Trackable(v any) bool {
	_, _, ok := pointerOf(v)
	return ok
}

// Make returns a weak reference to v, or false when v is not trackable.
func Make(v any) (Ref, bool) {
	p, typ, ok := pointerOf(v)
	if !ok {
		return Ref{}, false
	}
	return Ref{h: handle(p, typ), typ: typ}, true
}

// HandleOf returns the object identity of v.
func HandleOf(v any) (Handle, bool) {
	p, typ, ok := pointerOf(v)
	if !ok {
		return Handle{}, false
	}
	return handle(p, typ), true
}

func (r Ref) Handle() Handle { return r.h }

func (r Ref) Type() reflect.Type { return r.typ }

// Value returns the referenced value if it is still alive.
func (r Ref) Value() (any, bool) {
	if r.typ == nil {
		return nil, false
	}
	p := r.h.p.Value()
	if p == nil {
		return nil, false
	}
	return reflect.NewAt(r.typ.Elem(), unsafe.Pointer(p)).Convert(r.typ).Interface(), true
}

// Alive reports whether the referenced object has not been collected yet.
func (r Ref) Alive() bool {
	return r.typ != nil && r.h.p.Value() != nil
}

// Map associates a V with live objects. An entry disappears once its object
// is collected; onEvict (if set) is then called with the dropped V from the
// runtime cleanup goroutine, without the map lock held.
type Map[V any] struct {
	mu      sync.Mutex
	m       map[Handle]V
	armed   map[Handle]struct{}
	onEvict func(V)
}

func NewMap[V any](onEvict func(V)) *Map[V] {
	return &Map[V]{
		m:       make(map[Handle]V),
		armed:   make(map[Handle]struct{}),
		onEvict: onEvict,
	}
}

// Get returns the value stored for obj.
func (m *Map[V]) Get(obj any) (V, bool) {
	var zero V
	h, ok := HandleOf(obj)
	if !ok {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[h]
	return v, ok
}

// Set stores v for obj. It returns false (and stores nothing) when obj is
// not trackable.
func (m *Map[V]) Set(obj any, v V) bool {
	p, typ, ok := pointerOf(obj)
	if !ok {
		return false
	}
	bp := (*byte)(p)
	h := handle(p, typ)

	m.mu.Lock()
	m.m[h] = v
	_, armed := m.armed[h]
	if !armed {
		m.armed[h] = struct{}{}
	}
	m.mu.Unlock()

	if !armed {
		runtime.AddCleanup(bp, m.evict, h)
	}
	return true
}

// Delete drops the entry for obj without calling onEvict.
func (m *Map[V]) Delete(obj any) (V, bool) {
	var zero V
	h, ok := HandleOf(obj)
	if !ok {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[h]
	delete(m.m, h)
	return v, ok
}

func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

func (m *Map[V]) evict(h Handle) {
	m.mu.Lock()
	v, ok := m.m[h]
	delete(m.m, h)
	delete(m.armed, h)
	m.mu.Unlock()

	if ok && m.onEvict != nil {
		m.onEvict(v)
	}
}

// Set is a set of live objects.
type Set struct {
	m *Map[struct{}]
}

func NewSet() *Set {
	return &Set{m: NewMap[struct{}](nil)}
}

// Add inserts obj; untrackable values are ignored and reported with false.
func (s *Set) Add(obj any) bool { return s.m.Set(obj, struct{}{}) }

func (s *Set) Has(obj any) bool {
	_, ok := s.m.Get(obj)
	return ok
}

func (s *Set) Remove(obj any) {
	s.m.Delete(obj)
}

func (s *Set) Len() int { return s.m.Len() }
