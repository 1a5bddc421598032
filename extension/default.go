package extension

import (
	"crypto/sha256"
	"fmt"
	"reflect"
	"sync"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/codec"
	"github.com/unkn0wn-root/memocas/identity"
)

// DefaultName is the plugin name of the catch-all CBOR plugin.
const DefaultName = "cbor"

// Types maps type tags back to reflect types so the default plugin can
// restore concrete values. Types are learned as values are cached; after a
// restart, register them again with Registry.RegisterType.
type Types struct {
	mu sync.RWMutex
	m  map[string]reflect.Type
}

func newTypes() *Types { return &Types{m: make(map[string]reflect.Type)} }

func (t *Types) add(typ reflect.Type) {
	if typ == nil {
		return
	}
	name := typ.String()
	t.mu.RLock()
	_, ok := t.m[name]
	t.mu.RUnlock()
	if ok {
		return
	}
	t.mu.Lock()
	t.m[name] = typ
	t.mu.Unlock()
}

func (t *Types) lookup(name string) (reflect.Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.m[name]
	return typ, ok
}

// Default serializes any value with deterministic CBOR. Only exported struct
// fields take part in encoding and therefore in the fingerprint.
type Default struct {
	codec codec.CBOR[any]
	types *Types
}

var _ Plugin = (*Default)(nil)

func newDefault(types *Types) *Default {
	return &Default{codec: codec.MustCBOR[any](true), types: types}
}

func (*Default) Name() string       { return DefaultName }
func (*Default) Type() reflect.Type { return nil }
func (*Default) Supports(any) bool  { return true }

func (d *Default) EstimatedSize(v any) int64 {
	b, err := d.codec.Encode(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func (d *Default) Fingerprint(v any) (identity.Fingerprint, error) {
	b, err := d.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return digest(TypeName(v), b), nil
}

func (d *Default) CacheValue(v any, path *cached.FilePath) (cached.Value, error) {
	b, err := d.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if v != nil {
		d.types.add(reflect.TypeOf(v))
	}
	return cached.Save(DefaultName, TypeName(v), b, path, codec.Ext(d.codec))
}

// Decode restores a value of the recorded type, or generic CBOR data
// (maps, slices, numbers) when the type was never registered.
func (d *Default) Decode(typeName string, data []byte) (any, error) {
	typ, ok := d.types.lookup(typeName)
	if !ok {
		return d.codec.Decode(data)
	}
	ptr := reflect.New(typ)
	if err := d.codec.DecodeInto(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return ptr.Elem().Interface(), nil
}

func (*Default) WrapReturnValue(v any) any { return v }

func digest(typeName string, b []byte) identity.Digest {
	h := sha256.New()
	h.Write([]byte(typeName))
	h.Write([]byte{0})
	h.Write(b)
	return identity.Digest{Sum: h.Sum(nil)}
}
