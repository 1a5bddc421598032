package extension

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/proto"

	"github.com/unkn0wn-root/memocas/cached"
	"github.com/unkn0wn-root/memocas/codec"
	"github.com/unkn0wn-root/memocas/identity"
)

// Typed is a plugin for values of exactly type T backed by a codec.
type Typed[T any] struct {
	PluginName string
	Codec      codec.Codec[T]
	// Hash digests encoded bytes. Defaults to sha256.
	Hash func([]byte) []byte
	// Wrap post-processes fresh results (e.g. returns a read-only view).
	Wrap func(T) T
}

var _ Plugin = (*Typed[int])(nil)

func (p *Typed[T]) Name() string       { return p.PluginName }
func (p *Typed[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

func (p *Typed[T]) Supports(v any) bool {
	_, ok := v.(T)
	return ok
}

func (p *Typed[T]) encode(v any) ([]byte, error) {
	t, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported value %T", p.PluginName, v)
	}
	return p.Codec.Encode(t)
}

func (p *Typed[T]) EstimatedSize(v any) int64 {
	b, err := p.encode(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func (p *Typed[T]) Fingerprint(v any) (identity.Fingerprint, error) {
	b, err := p.encode(v)
	if err != nil {
		return nil, err
	}
	if p.Hash != nil {
		return identity.Digest{Sum: p.Hash(b)}, nil
	}
	return digest(TypeName(v), b), nil
}

func (p *Typed[T]) CacheValue(v any, path *cached.FilePath) (cached.Value, error) {
	b, err := p.encode(v)
	if err != nil {
		return nil, err
	}
	return cached.Save(p.PluginName, TypeName(v), b, path, codec.Ext(p.Codec))
}

func (p *Typed[T]) Decode(_ string, data []byte) (any, error) {
	return p.Codec.Decode(data)
}

func (p *Typed[T]) WrapReturnValue(v any) any {
	if p.Wrap == nil {
		return v
	}
	if t, ok := v.(T); ok {
		return p.Wrap(t)
	}
	return v
}

// NewMsgpack serializes T with msgpack.
func NewMsgpack[T any](name string) *Typed[T] {
	return &Typed[T]{PluginName: name, Codec: codec.Msgpack[T]{}}
}

// NewJSON serializes T with encoding/json.
func NewJSON[T any](name string) *Typed[T] {
	return &Typed[T]{PluginName: name, Codec: codec.JSON[T]{}}
}

// NewProto serializes protobuf messages of type T.
func NewProto[T proto.Message](name string, ctor func() T) *Typed[T] {
	return &Typed[T]{PluginName: name, Codec: codec.NewProtobuf(ctor)}
}

// Limited returns a copy of p that refuses to load payloads above max bytes,
// e.g. an external file that was replaced by something else.
func (p *Typed[T]) Limited(max int) *Typed[T] {
	cp := *p
	cp.Codec = codec.LimitCodec[T]{Inner: p.Codec, MaxDecode: max}
	return &cp
}

// NewBytes stores []byte values as is and digests them with xxhash.
func NewBytes() *Typed[[]byte] {
	return &Typed[[]byte]{
		PluginName: "bytes",
		Codec:      codec.Bytes{},
		Hash:       xxhashSum,
	}
}

func xxhashSum(b []byte) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], xxhash.Sum64(b))
	return out[:]
}
