package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"obsidion/internal/crypto"
	"obsidion/internal/domain"
)

// errNotCompressed marks a payload whose zlib header check failed; such
// params take the legacy uncompressed path.
var errNotCompressed = errors.New("params not compressed")

// DecodeInner decrypts an encryptedMessage payload and parses the inner
// message.
func DecodeInner(payload string, sharedSecret []byte, bridgeID string) (domain.Inner, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.Inner{}, fmt.Errorf("%w: decoding payload: %v", domain.ErrCrypto, err)
	}
	plaintext, err := crypto.Decrypt(ciphertext, sharedSecret, bridgeID)
	if err != nil {
		return domain.Inner{}, err
	}
	var inner domain.Inner
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return domain.Inner{}, fmt.Errorf("%w: parsing inner message: %v", domain.ErrProtocol, err)
	}
	return inner, nil
}

// DecodeSingleParams resolves the params of a single-part inner message.
// String params hold a base64 of the deflated JSON; anything else is
// already plain JSON. The legacy uncompressed path keeps the decoded
// bytes, JSON-parsed when possible.
func DecodeSingleParams(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		// Not a string: plain JSON params.
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: parsing params: %v", domain.ErrProtocol, err)
		}
		return out, nil
	}
	if asString == "" {
		return "", nil
	}
	return decodeBlob(asString)
}

// DecodeBlob decodes a reassembled chunk blob: base64, inflate, JSON. In
// the chunked path there is no legacy fallback.
func DecodeBlob(blob string) (any, error) {
	deflated, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding chunk blob: %v", domain.ErrCrypto, err)
	}
	data, err := inflate(deflated)
	if err != nil {
		if errors.Is(err, errNotCompressed) {
			return nil, fmt.Errorf("%w: chunk blob is not a zlib stream", domain.ErrCrypto)
		}
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing reassembled params: %v", domain.ErrProtocol, err)
	}
	return out, nil
}

func decodeBlob(blob string) (any, error) {
	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding params: %v", domain.ErrCrypto, err)
	}
	data, err := inflate(decoded)
	if err != nil {
		if errors.Is(err, errNotCompressed) {
			// Legacy path: the sender never compressed. Keep the decoded
			// bytes, as JSON when they parse.
			var out any
			if jsonErr := json.Unmarshal(decoded, &out); jsonErr == nil {
				return out, nil
			}
			return string(decoded), nil
		}
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing params: %v", domain.ErrProtocol, err)
	}
	return out, nil
}
