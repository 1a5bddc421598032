package extension

import (
	"crypto/sha256"
	"fmt"
	"reflect"
	"sync"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/hooks"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/log"
)

type Options struct {
	Logger log.Logger   // if nil, log.Nop is used
	Hooks  hooks.Hooks  // if nil, hooks.Nop is used
	// Plugins are registered in order; a later plugin for the same type fails.
	Plugins []Plugin
}

// Registry dispatches values to plugins by runtime type.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]Plugin
	byName map[string]Plugin
	types  *Types
	def    *Default
	log    log.Logger
	hooks  hooks.Hooks
}

func NewRegistry(opts Options) (*Registry, error) {
	types := newTypes()
	r := &Registry{
		byType: make(map[reflect.Type]Plugin),
		byName: make(map[string]Plugin),
		types:  types,
		def:    newDefault(types),
		log:    log.OrNop(opts.Logger),
		hooks:  hooks.OrNop(opts.Hooks),
	}
	r.byName[DefaultName] = r.def
	for _, p := range opts.Plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p. Its Type and Name must not already be taken.
func (r *Registry) Register(p Plugin) error {
	typ := p.Type()
	if typ == nil {
		return fmt.Errorf("extension: plugin %q has no dispatch type", p.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[p.Name()]; dup {
		return fmt.Errorf("extension: plugin name %q already registered", p.Name())
	}
	if old, dup := r.byType[typ]; dup {
		return fmt.Errorf("extension: type %s already handled by %q", typ, old.Name())
	}
	r.byType[typ] = p
	r.byName[p.Name()] = p
	r.types.add(typ)
	return nil
}

// RegisterType teaches the default plugin to restore values shaped like
// sample, e.g. RegisterType((*Frame)(nil)).
func (r *Registry) RegisterType(sample any) {
	r.types.add(reflect.TypeOf(sample))
}

func (r *Registry) pluginFor(v any) Plugin {
	if v == nil {
		return r.def
	}
	r.mu.RLock()
	p, ok := r.byType[reflect.TypeOf(v)]
	r.mu.RUnlock()
	if ok && p.Supports(v) {
		return p
	}
	return r.def
}

// PluginFor reports the name of the plugin v dispatches to.
func (r *Registry) PluginFor(v any) string {
	return r.pluginFor(v).Name()
}

func (r *Registry) EstimatedSize(v any) int64 {
	if t, ok := v.(Tuple); ok {
		var n int64
		for _, it := range t {
			n += r.EstimatedSize(it)
		}
		return n
	}
	return r.pluginFor(v).EstimatedSize(v)
}

// Fingerprint returns the content digest of v. A tuple's digest covers the
// digests of its items in order.
func (r *Registry) Fingerprint(v any) (identity.Fingerprint, error) {
	if t, ok := v.(Tuple); ok {
		h := sha256.New()
		for i, it := range t {
			f, err := r.Fingerprint(it)
			if err != nil {
				return nil, fmt.Errorf("tuple item %d: %w", i, err)
			}
			h.Write([]byte(f.Key()))
			h.Write([]byte{0})
		}
		return identity.Digest{Sum: h.Sum(nil)}, nil
	}
	p := r.pluginFor(v)
	f, err := p.Fingerprint(v)
	if err == nil || p == Plugin(r.def) {
		return f, err
	}
	r.log.Debug("plugin fingerprint failed; trying default", log.Fields{"plugin": p.Name(), "type": TypeName(v), "err": err})
	return r.def.Fingerprint(v)
}

// CacheValue serializes v. When the matching plugin fails the default plugin
// is tried; when both fail a *SerializationError is returned.
func (r *Registry) CacheValue(v any, path *cached.FilePath) (cached.Value, error) {
	if t, ok := v.(Tuple); ok {
		items := make([]cached.Value, len(t))
		for i, it := range t {
			cv, err := r.CacheValue(it, path.ForItem(i))
			if err != nil {
				for _, done := range items[:i] {
					_ = done.Unlink()
				}
				return nil, err
			}
			items[i] = cv
		}
		return cached.Tuple{Items: items}, nil
	}

	p := r.pluginFor(v)
	cv, err := p.CacheValue(v, path)
	if err == nil {
		return cv, nil
	}
	if p == Plugin(r.def) {
		return nil, &SerializationError{TypeName: TypeName(v), Plugin: DefaultName, FallbackErr: err}
	}

	r.log.Warn("plugin failed to serialize; falling back to default", log.Fields{"plugin": p.Name(), "type": TypeName(v), "err": err})
	r.hooks.SerializationFallback(TypeName(v), p.Name(), err)
	cv, ferr := r.def.CacheValue(v, path)
	if ferr != nil {
		return nil, &SerializationError{TypeName: TypeName(v), Plugin: p.Name(), PluginErr: err, FallbackErr: ferr}
	}
	return cv, nil
}

// Decode restores a value written by the named plugin.
func (r *Registry) Decode(plugin, typeName string, data []byte) (any, error) {
	r.mu.RLock()
	p, ok := r.byName[plugin]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extension: no plugin %q to decode %s", plugin, typeName)
	}
	return p.Decode(typeName, data)
}

// WrapReturnValue lets the matching plugin post-process a fresh result.
func (r *Registry) WrapReturnValue(v any) any {
	if t, ok := v.(Tuple); ok {
		out := make(Tuple, len(t))
		for i, it := range t {
			out[i] = r.WrapReturnValue(it)
		}
		return out
	}
	return r.pluginFor(v).WrapReturnValue(v)
}

// MakeTuple rebuilds a composite result from loaded items.
func (r *Registry) MakeTuple(items []any) any { return Tuple(items) }
