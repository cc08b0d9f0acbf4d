package domain

import "encoding/hex"

const (
	// PrivateKeyBytes is the length of a secp256k1 scalar.
	PrivateKeyBytes = 32
	// PublicKeyBytes is the length of a compressed secp256k1 point.
	PublicKeyBytes = 33
	// SharedSecretBytes is the length of the derived AEAD key.
	SharedSecretBytes = 32
)

// KeyPair carries a secp256k1 private scalar and its compressed public key.
// It is immutable once assigned to a session.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// PublicHex returns the hex encoding of the compressed public key. For the
// Creator this doubles as the bridge id.
func (k KeyPair) PublicHex() string { return hex.EncodeToString(k.Public) }

// Valid reports whether both halves have their expected lengths.
func (k KeyPair) Valid() bool {
	return len(k.Private) == PrivateKeyBytes && len(k.Public) == PublicKeyBytes
}
