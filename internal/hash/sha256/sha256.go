// Package sha256 fingerprints extracted text for content deduplication.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data. It never fails.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.Sum(string(data)), nil
}

// Sum returns the hex digest of text.
func (*Hasher) Sum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
