// Package sha256 provides SHA-256 hashing utilities.
//
// The results archiver uses digests as content-addressed object names so
// re-uploading an identical run file is a no-op at the blob store.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements results.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashString is a convenience wrapper over Hash for string input.
func (h *Hasher) HashString(s string) (string, error) {
	return h.Hash([]byte(s))
}
