package code

import (
	"strings"
	"sync"
)

// Namespace resolves global names for function and cell bodies.
type Namespace interface {
	// Lookup resolves a possibly dotted name ("math.Pi").
	Lookup(name string) (any, bool)
}

// MapNamespace is a mutable Namespace. Nested namespaces resolve dotted
// names, so a package can be modelled as a *MapNamespace stored under its
// name.
type MapNamespace struct {
	mu   sync.RWMutex
	vals map[string]any
}

func NewNamespace() *MapNamespace {
	return &MapNamespace{vals: make(map[string]any)}
}

func (n *MapNamespace) Set(name string, v any) {
	n.mu.Lock()
	n.vals[name] = v
	n.mu.Unlock()
}

func (n *MapNamespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vals[name]
	return v, ok
}

func (n *MapNamespace) Delete(name string) {
	n.mu.Lock()
	delete(n.vals, name)
	n.mu.Unlock()
}

// Define binds f under its Name and points f.Globals at n when unset.
func (n *MapNamespace) Define(f *Func) *Func {
	if f.Globals == nil {
		f.Globals = n
	}
	n.Set(f.Name, f)
	return f
}

func (n *MapNamespace) Lookup(name string) (any, bool) {
	if v, ok := n.Get(name); ok {
		return v, true
	}
	head, tail, ok := strings.Cut(name, ".")
	if !ok {
		return nil, false
	}
	v, ok := n.Get(head)
	if !ok {
		return nil, false
	}
	sub, ok := v.(Namespace)
	if !ok {
		return nil, false
	}
	return sub.Lookup(tail)
}
