package domain

import "context"

// Transport is a duplex text-frame channel to the relay. Implementations
// must invoke OnMessage serially from a single goroutine and fire OnClose
// exactly once per successful Open. Callbacks are registered before Open.
type Transport interface {
	// Open dials the relay. The context bounds the dial only.
	Open(ctx context.Context, url string) error
	// Send writes one text frame. Safe for concurrent use.
	Send(frame []byte) error
	// Close tears the connection down with a close code and reason.
	Close(code int, reason string) error

	OnMessage(fn func(frame []byte))
	OnClose(fn func(code int, reason string, clean bool))
}
