package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// entryKeyHex is the number of hex characters kept from the digest.
const entryKeyHex = 32

// EntryKey returns the fixed-length backend key for an identity key.
// Identity keys of deep call chains grow without bound; backend keys must not.
func EntryKey(identityKey string) string {
	sum := sha256.Sum256([]byte(identityKey))
	return "e:" + hex.EncodeToString(sum[:])[:entryKeyHex] // prefix + first 32 hex chars
}

// IsEntryKey reports whether k has the shape EntryKey produces.
func IsEntryKey(k string) bool {
	if len(k) != 2+entryKeyHex || k[:2] != "e:" {
		return false
	}
	_, err := hex.DecodeString(k[2:])
	return err == nil
}
