package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecodeEntry(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func mustEncodeEntry(t *testing.T, e Entry) []byte {
	t.Helper()
	b, err := EncodeEntry(e)
	if err != nil {
		t.Fatalf("EncodeEntry error: %v", err)
	}
	return b
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []Entry{
		{},
		{SavedAt: 1700000000000000000, SaveNanos: 1234, StoredSize: 42, ID: []byte("id"), Fingerprint: []byte("fp"), Value: []byte("value")},
		{SavedAt: -1, SaveNanos: math.MaxInt64, StoredSize: math.MaxUint64, ID: []byte{0}, Value: []byte{1, 2, 3}},
	}
	for _, tc := range cases {
		got := mustDecodeEntry(t, mustEncodeEntry(t, tc))
		if got.SavedAt != tc.SavedAt || got.SaveNanos != tc.SaveNanos || got.StoredSize != tc.StoredSize {
			t.Fatalf("header mismatch: got=%+v want=%+v", got, tc)
		}
		if !bytes.Equal(got.ID, tc.ID) || !bytes.Equal(got.Fingerprint, tc.Fingerprint) || !bytes.Equal(got.Value, tc.Value) {
			t.Fatalf("field mismatch: got=%+v want=%+v", got, tc)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := mustEncodeEntry(t, Entry{ID: []byte("x")})
	enc = append(enc, 0xDE, 0xAD) // add junk
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncodeEntry(t, Entry{ID: []byte("abc"), Fingerprint: []byte("f"), Value: []byte("v")})

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// wrong version
	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// wrong kind
	badKind := append([]byte(nil), enc...)
	badKind[5] = kindCounter
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// idLen too large (announce more than available)
	// idLen is at offset 30..33 (4 magic +1 ver +1 kind +8 +8 +8)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[30:34], uint32(len(enc)))
	if _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on idLen beyond buffer")
	}

	// truncated buffer
	for i := 0; i < len(enc); i++ {
		if _, err := DecodeEntry(enc[:i]); err == nil {
			t.Fatalf("expected error on truncation at %d", i)
		}
	}
}

func TestEntryZeroCopyFields(t *testing.T) {
	enc := mustEncodeEntry(t, Entry{Value: []byte("Z")})
	e := mustDecodeEntry(t, enc)
	// mutate value slice. should mutate underlying enc bytes (zero-copy)
	e.Value[0] = 'Q'
	e2 := mustDecodeEntry(t, enc)
	if e2.Value[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}

func TestCounterRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 9999999999, math.MaxUint64} {
		got, err := DecodeCounter(EncodeCounter(n))
		if err != nil || got != n {
			t.Fatalf("counter: got=%d err=%v want=%d", got, err, n)
		}
	}
}

func TestCounterCorrupt(t *testing.T) {
	enc := EncodeCounter(7)
	if _, err := DecodeCounter(append(enc, 0)); err == nil {
		t.Fatalf("expected error on trailing byte")
	}
	if _, err := DecodeCounter(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncation")
	}
	bad := append([]byte(nil), enc...)
	bad[5] = kindEntry
	if _, err := DecodeCounter(bad); err == nil {
		t.Fatalf("expected error on wrong kind")
	}
}
