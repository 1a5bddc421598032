// Package online is the in-process tier of cached results: a bidirectional
// identity/value map that references values weakly where Go allows it, with
// write-through and read-through to the persisted store.
package online

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/hooks"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/internal/weakref"
	"github.com/unkn0wn-root/memocas/log"
)

// Persister is the durable tier. *store.Store implements it.
type Persister interface {
	Add(ctx context.Context, id identity.ID, v any, fp identity.Fingerprint) error
	LoadValue(ctx context.Context, id identity.ID) (any, bool, error)
	Fingerprint(ctx context.Context, id identity.ID) (identity.Fingerprint, bool, error)
	Remove(ctx context.Context, id identity.ID) (bool, error)
	IDs(ctx context.Context) ([]identity.ID, error)
}

type Options struct {
	Store  Persister // nil keeps results online only
	Stale  *StalenessRegistry
	Logger log.Logger
	Hooks  hooks.Hooks
}

// entry is an AnnotatedValue: a value with the fingerprint it was computed
// under. Weak entries hold ref; the rest hold the value in strong until Flush.
type entry struct {
	id     identity.ID
	fp     identity.Fingerprint
	ref    weakref.Ref
	weak   bool
	strong any
}

func (e *entry) value() (any, bool) {
	if e.weak {
		return e.ref.Value()
	}
	return e.strong, true
}

type Layer struct {
	mu    sync.Mutex
	byKey map[string]*entry
	byObj *weakref.Map[*entry]

	store Persister
	stale *StalenessRegistry
	log   log.Logger
	hooks hooks.Hooks
}

func New(opts Options) *Layer {
	l := &Layer{
		byKey: make(map[string]*entry),
		store: opts.Store,
		stale: opts.Stale,
		log:   log.OrNop(opts.Logger),
		hooks: hooks.OrNop(opts.Hooks),
	}
	if l.stale == nil {
		l.stale = NewStalenessRegistry()
	}
	l.byObj = weakref.NewMap(l.evicted)
	return l
}

func (l *Layer) Staleness() *StalenessRegistry { return l.stale }

// evicted runs on the cleanup goroutine once a weakly held value is
// collected. A newer entry for the same identity is left alone.
func (l *Layer) evicted(e *entry) {
	key := e.id.Key()
	l.mu.Lock()
	cur, ok := l.byKey[key]
	drop := ok && cur == e
	if drop {
		delete(l.byKey, key)
	}
	l.mu.Unlock()
	if drop {
		l.hooks.ValueEvicted(key)
		l.log.Debug("online value collected", log.Fields{"id": key})
	}
}

// unlinkLocked drops the entry of key and returns its value if still alive.
func (l *Layer) unlinkLocked(key string) (any, bool) {
	e, ok := l.byKey[key]
	if !ok {
		return nil, false
	}
	delete(l.byKey, key)
	v, alive := e.value()
	if alive && e.weak {
		l.byObj.Delete(v)
	}
	return v, alive
}

// Link records v as the value of id in this process only.
func (l *Layer) Link(id identity.ID, v any, fp identity.Fingerprint) {
	e := &entry{id: id, fp: fp}
	if ref, ok := weakref.Make(v); ok {
		e.ref, e.weak = ref, true
	} else {
		e.strong = v
	}

	l.mu.Lock()
	old, hadOld := l.unlinkLocked(id.Key())
	l.byKey[id.Key()] = e
	l.mu.Unlock()

	if e.weak {
		l.byObj.Set(v, e)
	}
	if hadOld && !sameObject(old, v) {
		l.stale.MarkStale(old)
	}
	l.stale.MarkUsed(v)
}

func sameObject(a, b any) bool {
	ha, ok := weakref.HandleOf(a)
	if !ok {
		return false
	}
	hb, ok := weakref.HandleOf(b)
	return ok && ha == hb
}

// Register links v to id and writes it through to the store. A value no
// plugin can serialize stays online only.
func (l *Layer) Register(ctx context.Context, id identity.ID, v any, fp identity.Fingerprint) error {
	l.Link(id, v, fp)
	if l.store == nil {
		return nil
	}
	err := l.store.Add(ctx, id, v, fp)
	var se *extension.SerializationError
	if errors.As(err, &se) {
		l.log.Warn("result kept online only", log.Fields{"id": id.Key(), "type": se.TypeName, "err": err})
		l.hooks.PersistSkipped(id.Key(), err)
		return nil
	}
	return err
}

// ResolveValue returns the value of id, loading it from the store on a miss.
func (l *Layer) ResolveValue(ctx context.Context, id identity.ID) (any, bool, error) {
	l.mu.Lock()
	e, ok := l.byKey[id.Key()]
	l.mu.Unlock()
	if ok {
		if v, alive := e.value(); alive {
			return v, true, nil
		}
	}
	if l.store == nil {
		return nil, false, nil
	}
	v, ok, err := l.store.LoadValue(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	fp, _, err := l.store.Fingerprint(ctx, id)
	if err != nil {
		return nil, false, err
	}
	l.Link(id, v, fp)
	return v, true, nil
}

// ResolveFingerprint returns the fingerprint recorded for id.
func (l *Layer) ResolveFingerprint(ctx context.Context, id identity.ID) (identity.Fingerprint, bool, error) {
	l.mu.Lock()
	e, ok := l.byKey[id.Key()]
	l.mu.Unlock()
	if ok {
		return e.fp, true, nil
	}
	if l.store == nil {
		return nil, false, nil
	}
	return l.store.Fingerprint(ctx, id)
}

// IdentifyValue returns the identity v is linked to. Only weakly tracked
// values can be identified by object.
func (l *Layer) IdentifyValue(v any) (identity.ID, bool) {
	e, ok := l.byObj.Get(v)
	if !ok {
		return nil, false
	}
	return e.id, true
}

func (l *Layer) FingerprintValue(v any) (identity.Fingerprint, bool) {
	e, ok := l.byObj.Get(v)
	if !ok {
		return nil, false
	}
	return e.fp, true
}

// HasID reports whether id is linked online to a live value.
func (l *Layer) HasID(id identity.ID) bool {
	l.mu.Lock()
	e, ok := l.byKey[id.Key()]
	l.mu.Unlock()
	if !ok {
		return false
	}
	_, alive := e.value()
	return alive
}

// Invalidate unlinks v and marks it stale. The store is not touched.
func (l *Layer) Invalidate(v any) bool {
	e, ok := l.byObj.Get(v)
	if !ok {
		return false
	}
	l.mu.Lock()
	if l.byKey[e.id.Key()] == e {
		delete(l.byKey, e.id.Key())
	}
	l.mu.Unlock()
	l.byObj.Delete(v)
	l.stale.MarkStale(v)
	return true
}

// Remove forgets id online and in the store. A live value is marked stale.
func (l *Layer) Remove(ctx context.Context, id identity.ID) (bool, error) {
	l.mu.Lock()
	v, alive := l.unlinkLocked(id.Key())
	l.mu.Unlock()
	if alive {
		l.stale.MarkStale(v)
	}
	if l.store == nil {
		return alive, nil
	}
	removed, err := l.store.Remove(ctx, id)
	return alive || removed, err
}

// Flush drops every strongly buffered value. Later reads reload them from
// the store.
func (l *Layer) Flush() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.byKey {
		if !e.weak {
			delete(l.byKey, k)
			n++
		}
	}
	l.log.Debug("online layer flushed", log.Fields{"dropped": n})
	return n
}

// Len is the number of linked identities.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// IDs lists online identities and, with persisted, the store's as well,
// sorted by key.
func (l *Layer) IDs(ctx context.Context, persisted bool) ([]identity.ID, error) {
	seen := make(map[string]identity.ID)
	l.mu.Lock()
	for k, e := range l.byKey {
		seen[k] = e.id
	}
	l.mu.Unlock()

	if persisted && l.store != nil {
		ids, err := l.store.IDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id.Key()] = id
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]identity.ID, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out, nil
}
