package domain

import "errors"

// Error taxonomy. Configuration errors surface synchronously from the
// facade; everything else flows through the error event stream or the
// Disconnected/FailedToConnect events.
var (
	ErrConfiguration  = errors.New("invalid configuration")
	ErrTransport      = errors.New("transport failure")
	ErrProtocol       = errors.New("protocol violation")
	ErrCrypto         = errors.New("crypto failure")
	ErrOriginMismatch = errors.New("origin mismatch")
	ErrClosed         = errors.New("bridge closed")
)
