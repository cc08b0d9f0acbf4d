package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"obsidion/internal/domain"
)

// GenerateKeyPair returns a fresh secp256k1 key pair with the public key
// in compressed form.
func GenerateKeyPair() (domain.KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("generating key pair: %w", err)
	}
	return domain.KeyPair{
		Private: priv.Serialize(),
		Public:  priv.PubKey().SerializeCompressed(),
	}, nil
}

// ParsePublicKey validates a compressed public key.
func ParsePublicKey(pub []byte) error {
	if _, err := btcec.ParsePubKey(pub); err != nil {
		return fmt.Errorf("%w: parsing public key: %v", domain.ErrCrypto, err)
	}
	return nil
}

// DeriveSharedSecret computes ECDH over secp256k1 and returns the first 32
// bytes of the compressed shared point. Both peers derive the same value.
func DeriveSharedSecret(priv, pub []byte) ([]byte, error) {
	if len(priv) != domain.PrivateKeyBytes {
		return nil, fmt.Errorf("%w: private key must be %d bytes", domain.ErrCrypto, domain.PrivateKeyBytes)
	}
	privKey, _ := btcec.PrivKeyFromBytes(priv)
	pubKey, err := btcec.ParsePubKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing remote public key: %v", domain.ErrCrypto, err)
	}

	var point, product secp.JacobianPoint
	pubKey.AsJacobian(&point)
	secp.ScalarMultNonConst(&privKey.Key, &point, &product)
	product.ToAffine()

	shared := secp.NewPublicKey(&product.X, &product.Y)
	return shared.SerializeCompressed()[:domain.SharedSecretBytes], nil
}
