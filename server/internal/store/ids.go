package store

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an 8-character lowercase hex identifier drawn from a
// cryptographic source, per the id format mandated for nodes, jobs, and
// plan runs.
func NewID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on the standard reader only fails if the OS
		// entropy source is unavailable, which is unrecoverable here.
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
