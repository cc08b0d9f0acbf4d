// Package codec builds and decodes the encrypted envelope pipeline.
//
// # Outbound
//
// Params are JSON-encoded, zlib-deflated and base64-encoded into a blob.
// The blob is cut into 16 KiB chunks; each chunk travels as an encrypted
// inner message tagged with {id, index, length}. Empty params skip the
// blob entirely and travel as a single inner message. Every outer
// envelope is an encryptedMessage whose payload is the base64 of the
// AES-GCM ciphertext of the inner JSON.
//
// # Inbound
//
// Payloads are decrypted and parsed into inner messages. Single-part
// string params are base64-decoded and inflated; a zlib header error
// selects the legacy uncompressed path. Chunked params accumulate in an
// Assembler keyed by chunk id until the group completes, then the
// concatenated blob is base64-decoded, inflated and JSON-parsed; a blob
// that is not a zlib stream is an error, with no legacy fallback.
//
// # Errors
//
// A group whose announced length changes mid-flight is dropped with an
// error. Stale groups are evicted on a TTL; an evicted or completed group
// can never fire again.
package codec
