// Package crypto implements the primitive suite of the bridge protocol:
// secp256k1 key agreement, AES-256-GCM sealing and the deterministic
// per-session nonce.
//
// # Shared secret
//
// The AEAD key is the first 32 bytes of the *compressed serialization* of
// the ECDH point (the parity prefix plus 31 bytes of the X coordinate),
// not the bare X coordinate. This matches the wire expectation and must be
// preserved bit-exactly.
//
// # Nonce
//
// The 96-bit GCM nonce is SHA-256 of the UTF-8 bridge id, truncated. It is
// deterministic for the whole session: per-message uniqueness is enforced
// by the id-dedup layer, and key freshness comes from ephemeral ECDH keys.
// Reusing one key pair with the same bridge id across sessions voids the
// AEAD guarantees; callers must generate fresh keys per session.
package crypto
