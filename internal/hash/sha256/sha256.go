// Package sha256 derives SHA-256 digests for record bodies and uploaded payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHashLen is the number of hex characters kept for a record content hash.
const ContentHashLen = 16

// Hasher implements content.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the full hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return hexDigest(data), nil
}

// ContentHash returns the truncated digest used to identify a record body.
// It is a pure function of text.
func ContentHash(text string) string {
	return hexDigest([]byte(text))[:ContentHashLen]
}

func hexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
