package cached

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/memocas/codec"
)

var ErrUnknownValue = errors.New("cached: unknown value kind")

type record struct {
	K string    `cbor:"k"`
	P string    `cbor:"p,omitempty"`
	T string    `cbor:"t,omitempty"`
	D []byte    `cbor:"d,omitempty"`
	F string    `cbor:"f,omitempty"`
	N int64     `cbor:"n,omitempty"`
	I []*record `cbor:"i,omitempty"`
}

var records = codec.MustCBOR[*record](true)

func Marshal(v Value) ([]byte, error) {
	r, err := toRecord(v)
	if err != nil {
		return nil, err
	}
	return records.Encode(r)
}

func Unmarshal(b []byte) (Value, error) {
	r, err := records.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("cached: decode: %w", err)
	}
	return fromRecord(r)
}

func toRecord(v Value) (*record, error) {
	switch x := v.(type) {
	case Inline:
		return &record{K: "inline", P: x.Plugin, T: x.Type, D: x.Data}, nil
	case External:
		return &record{K: "external", P: x.Plugin, T: x.Type, F: x.Path, N: x.Size}, nil
	case Tuple:
		r := &record{K: "tuple", I: make([]*record, 0, len(x.Items))}
		for _, it := range x.Items {
			ir, err := toRecord(it)
			if err != nil {
				return nil, err
			}
			r.I = append(r.I, ir)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownValue, v)
	}
}

func fromRecord(r *record) (Value, error) {
	if r == nil {
		return nil, ErrUnknownValue
	}
	switch r.K {
	case "inline":
		return Inline{Plugin: r.P, Type: r.T, Data: r.D}, nil
	case "external":
		return External{Plugin: r.P, Type: r.T, Path: r.F, Size: r.N}, nil
	case "tuple":
		t := Tuple{Items: make([]Value, 0, len(r.I))}
		for _, ir := range r.I {
			it, err := fromRecord(ir)
			if err != nil {
				return nil, err
			}
			t.Items = append(t.Items, it)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownValue, r.K)
	}
}
