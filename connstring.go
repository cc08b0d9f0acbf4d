package obsidion

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"obsidion/internal/crypto"
	"obsidion/internal/domain"
)

// Scheme is the connection-string URI scheme.
const Scheme = "obsidion"

// FormatConnectionString renders the rendezvous string published by the
// Creator: the bridge id (its public key hex) plus the declared origin.
func FormatConnectionString(bridgeID, origin string) string {
	return fmt.Sprintf("%s:%s?d=%s", Scheme, bridgeID, origin)
}

// ParseConnectionString extracts the Creator's public key hex and origin.
// The origin is normalized: bare domains other than "nodejs" gain an
// https:// prefix.
func ParseConnectionString(uri string) (pubKeyHex, origin string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme+":")
	if !ok {
		return "", "", fmt.Errorf("%w: connection string must start with %q", domain.ErrConfiguration, Scheme+":")
	}
	path, query, _ := strings.Cut(rest, "?")
	if path == "" {
		return "", "", fmt.Errorf("%w: connection string is missing the public key", domain.ErrConfiguration)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("%w: parsing connection string query: %v", domain.ErrConfiguration, err)
	}
	origin = values.Get("d")
	if origin == "" {
		return "", "", fmt.Errorf("%w: connection string is missing the origin", domain.ErrConfiguration)
	}
	if origin != "nodejs" && !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	return path, origin, nil
}

// decodePublicKeyHex validates and decodes a compressed public key hex.
func decodePublicKeyHex(pubHex string) ([]byte, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex", domain.ErrConfiguration)
	}
	if err := crypto.ParsePublicKey(pub); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return pub, nil
}
