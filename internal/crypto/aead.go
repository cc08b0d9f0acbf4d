package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"obsidion/internal/domain"
)

// NonceBytes is the GCM nonce length.
const NonceBytes = 12

// Nonce derives the session nonce from the bridge id: SHA-256 of its UTF-8
// encoding, truncated to 12 bytes.
func Nonce(bridgeID string) []byte {
	sum := sha256.Sum256([]byte(bridgeID))
	return sum[:NonceBytes]
}

// Encrypt seals plaintext with AES-256-GCM under the shared secret and the
// session nonce.
func Encrypt(plaintext, sharedSecret []byte, bridgeID string) ([]byte, error) {
	aead, err := newAEAD(sharedSecret)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, Nonce(bridgeID), plaintext, nil), nil
}

// Decrypt opens an AES-256-GCM ciphertext. A tag mismatch reports
// domain.ErrCrypto.
func Decrypt(ciphertext, sharedSecret []byte, bridgeID string) ([]byte, error) {
	aead, err := newAEAD(sharedSecret)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, Nonce(bridgeID), ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting payload: %v", domain.ErrCrypto, err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != domain.SharedSecretBytes {
		return nil, fmt.Errorf("%w: AEAD key must be %d bytes", domain.ErrCrypto, domain.SharedSecretBytes)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCrypto, err)
	}
	return aead, nil
}
