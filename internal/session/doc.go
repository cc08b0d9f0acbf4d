// Package session drives one bridge session: role-specific handshake,
// secure message dispatch with duplicate suppression and chunk
// reassembly, plus the connection controller (keepalive pings,
// exponential-backoff reconnection, replay on resume).
//
// # Locking
//
// One mutex guards the whole SessionContext and is held across the full
// handling of each inbound frame. Listener callbacks are collected under
// the lock and invoked after it is released, so a callback may safely
// call back into the session.
//
// # Lifecycle
//
// Init -> Connecting -> Connected -> SecureChannelEstablished, with
// Reconnecting <-> Connected on transport failures and a Resumed shortcut
// that skips the handshake when key material is supplied up front.
// Close is terminal: it cancels timers, drops listeners and zeroes the
// secret material.
package session
