package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// maxNestedLevels bounds decode recursion. Identities of long call chains nest
// deeply, so the library default (32) is too small.
const maxNestedLevels = 4096

// CBOR encodes values with fxamacker/cbor. Build it with NewCBOR or MustCBOR;
// the zero value has no modes.
//
// Deterministic codecs use the RFC 8949 core deterministic rules, so equal
// values encode to equal bytes. Identity records and content digests depend
// on that.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{MaxNestedLevels: maxNestedLevels}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics when the modes cannot be built. For package-level codecs.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// DecodeInto decodes b into dst, which must be a non-nil pointer. It lets a
// CBOR[any] restore values whose concrete type is only known at runtime.
func (c CBOR[V]) DecodeInto(b []byte, dst any) error {
	return c.dec.Unmarshal(b, dst)
}

func (CBOR[V]) Ext() string { return "cbor" }
