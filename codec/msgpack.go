package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack encodes values with vmihailenco/msgpack. The zero value is ready.
// Fields are named by `msgpack` struct tags, not `json` ones.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

func (Msgpack[V]) Ext() string { return "msgpack" }
