package codec

// Bytes stores []byte values as they are.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Ext() string                     { return "bin" }
