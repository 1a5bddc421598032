// Package registry links live values to identities: caller-named external
// values, memoized results (through the online layer), and the identities of
// functions, cells and calls.
package registry

import (
	"sort"
	"sync"

	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/internal/weakref"
)

type named struct {
	v  any
	fp identity.Fingerprint
}

// External holds caller-named values. Values are held strongly: a name is a
// promise that the value can be resolved later.
type External struct {
	mu     sync.Mutex
	byName map[string]named
	byObj  *weakref.Map[string]
}

func NewExternal() *External {
	return &External{
		byName: make(map[string]named),
		byObj:  weakref.NewMap[string](nil),
	}
}

// Set names v. A nil v removes the name.
func (r *External) Set(name string, v any, fp identity.Fingerprint) {
	r.mu.Lock()
	old, had := r.byName[name]
	if v == nil {
		delete(r.byName, name)
	} else {
		r.byName[name] = named{v: v, fp: fp}
	}
	r.mu.Unlock()

	if had {
		if cur, ok := r.byObj.Get(old.v); ok && cur == name {
			r.byObj.Delete(old.v)
		}
	}
	if v != nil {
		r.byObj.Set(v, name)
	}
}

func (r *External) Resolve(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byName[name]
	return n.v, ok
}

func (r *External) Fingerprint(name string) (identity.Fingerprint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byName[name]
	return n.fp, ok
}

// IdentifyValue returns the NamedID of a named pointer value.
func (r *External) IdentifyValue(v any) (identity.ID, bool) {
	name, ok := r.byObj.Get(v)
	if !ok {
		return nil, false
	}
	return identity.NamedID{Name: name}, true
}

func (r *External) FingerprintValue(v any) (identity.Fingerprint, bool) {
	name, ok := r.byObj.Get(v)
	if !ok {
		return nil, false
	}
	return r.Fingerprint(name)
}

// Invalidate drops the name of v.
func (r *External) Invalidate(v any) bool {
	name, ok := r.byObj.Get(v)
	if !ok {
		return false
	}
	r.Set(name, nil, nil)
	return true
}

func (r *External) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
