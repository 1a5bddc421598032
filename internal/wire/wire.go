// Package wire frames the records the persisted store writes to its backend.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version     byte = 1
	kindEntry   byte = 1
	kindCounter byte = 2
)

var (
	ErrCorrupt = errors.New("memocas: corrupt record")
	ErrTooLong = errors.New("memocas: record field too long")
	magic4     = [...]byte{'M', 'E', 'M', 'O'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is one persisted cached result. ID, Fingerprint and Value hold the
// encoded identity, fingerprint and cached value.
type Entry struct {
	SavedAt     int64 // unix nanoseconds
	SaveNanos   int64
	StoredSize  uint64
	ID          []byte
	Fingerprint []byte
	Value       []byte
}

const entryHdr = 4 + 1 + 1 + 8 + 8 + 8

// Entry:
//
//	magic(4) | ver(1) | kind(1=entry) | savedAt(i64 be) | saveNanos(i64 be) | size(u64 be)
//	idLen(u32 be) | id | fpLen(u32 be) | fp | vLen(u32 be) | value
func EncodeEntry(e Entry) ([]byte, error) {
	for _, f := range [][]byte{e.ID, e.Fingerprint, e.Value} {
		if len(f) > math.MaxUint32 {
			return nil, ErrTooLong
		}
	}

	var buf bytes.Buffer
	buf.Grow(entryHdr + 12 + len(e.ID) + len(e.Fingerprint) + len(e.Value))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(e.SavedAt))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.SaveNanos))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], e.StoredSize)
	buf.Write(u8[:])

	writeField(&buf, e.ID)
	writeField(&buf, e.Fingerprint)
	writeField(&buf, e.Value)
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, f []byte) {
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(f)))
	buf.Write(u4[:])
	buf.Write(f)
}

// DecodeEntry parses an entry. Returned slices alias b.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6
	var e Entry
	e.SavedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.SaveNanos = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.StoredSize = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	var err error
	if e.ID, off, err = readField(b, off); err != nil {
		return Entry{}, err
	}
	if e.Fingerprint, off, err = readField(b, off); err != nil {
		return Entry{}, err
	}
	if e.Value, off, err = readField(b, off); err != nil {
		return Entry{}, err
	}
	if off != len(b) {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}

func readField(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, 0, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 || n > len(b)-off { // overflow-safe bound check
		return nil, 0, ErrCorrupt
	}
	return b[off : off+n], off + n, nil
}

// Counter: magic(4) | ver(1) | kind(2=counter) | n(u64 be)
func EncodeCounter(n uint64) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindCounter)
	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], n)
	buf.Write(u8[:])
	return buf.Bytes()
}

func DecodeCounter(b []byte) (uint64, error) {
	if len(b) != 4+1+1+8 || !hasMagic(b) || b[4] != version || b[5] != kindCounter {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b[6:]), nil
}
