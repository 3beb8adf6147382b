// Package md5 derives stable record file names from page URLs.
package md5

import (
	"crypto/md5" //nolint:gosec // naming only, not a security boundary
	"encoding/hex"
)

// Hasher implements crawler.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
