package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomID returns a fresh 16-byte hex identifier for envelopes and chunk
// groups.
func RandomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
