// Package domain holds the shared vocabulary of the bridge: key material,
// session state, the JSON-RPC wire schema, event payloads, the error
// taxonomy and the transport capability set.
//
// Everything here is plain data or a small interface; behaviour lives in
// the crypto, codec, transport and session packages.
package domain
