package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"obsidion/internal/crypto"
	"obsidion/internal/domain"
)

// EncodeSecure turns one application message into the ordered list of
// outer envelopes that carry it. Empty params produce a single envelope;
// anything else is compressed and chunked. The caller owns pacing and id
// bookkeeping.
func EncodeSecure(method string, params any, sharedSecret []byte, bridgeID string) ([]domain.Envelope, error) {
	paramsJSON, empty, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	if empty {
		inner := domain.Inner{Method: method, Params: json.RawMessage(`{}`)}
		env, err := sealInner(inner, sharedSecret, bridgeID)
		if err != nil {
			return nil, err
		}
		return []domain.Envelope{env}, nil
	}

	deflated, err := deflate(paramsJSON)
	if err != nil {
		return nil, err
	}
	blob := base64.StdEncoding.EncodeToString(deflated)

	chunkID, err := crypto.RandomID()
	if err != nil {
		return nil, err
	}
	total := (len(blob) + domain.ChunkSize - 1) / domain.ChunkSize

	envelopes := make([]domain.Envelope, 0, total)
	for i := 0; i < total; i++ {
		start := i * domain.ChunkSize
		end := min(start+domain.ChunkSize, len(blob))

		part, err := json.Marshal(blob[start:end])
		if err != nil {
			return nil, err
		}
		inner := domain.Inner{
			Method: method,
			Params: part,
			Chunk:  &domain.ChunkMeta{ID: chunkID, Index: i, Length: total},
		}
		env, err := sealInner(inner, sharedSecret, bridgeID)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// sealInner encrypts one inner message and wraps it as an encryptedMessage
// envelope with a fresh id, enforcing the outer size limit.
func sealInner(inner domain.Inner, sharedSecret []byte, bridgeID string) (domain.Envelope, error) {
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return domain.Envelope{}, err
	}
	ciphertext, err := crypto.Encrypt(innerJSON, sharedSecret, bridgeID)
	if err != nil {
		return domain.Envelope{}, err
	}

	params, err := json.Marshal(domain.EncryptedParams{
		Payload: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return domain.Envelope{}, err
	}
	id, err := crypto.RandomID()
	if err != nil {
		return domain.Envelope{}, err
	}
	env := domain.Envelope{
		JSONRPC: domain.JSONRPCVersion,
		ID:      id,
		Method:  domain.MethodEncryptedMessage,
		Params:  params,
	}

	wire, err := json.Marshal(env)
	if err != nil {
		return domain.Envelope{}, err
	}
	if len(wire) > domain.MaxPayloadSize {
		return domain.Envelope{}, fmt.Errorf("%w: envelope of %d bytes exceeds the %d byte limit",
			domain.ErrProtocol, len(wire), domain.MaxPayloadSize)
	}
	return env, nil
}

// marshalParams encodes params and reports whether they are empty
// (nil, JSON null, or an empty object).
func marshalParams(params any) ([]byte, bool, error) {
	if params == nil {
		return nil, true, nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("encoding params: %w", err)
	}
	switch string(encoded) {
	case "null", "{}":
		return nil, true, nil
	}
	return encoded, false, nil
}
