// Package codec holds the byte codecs used by serialization plugins and by
// the persisted identity encoding.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Extensioner is implemented by codecs that know the file extension of
// their encoding. It names externally cached files.
type Extensioner interface {
	Ext() string
}

// Ext returns the file extension for c, or "bin" when c does not say.
func Ext(c any) string {
	if e, ok := c.(Extensioner); ok && e.Ext() != "" {
		return e.Ext()
	}
	return "bin"
}
