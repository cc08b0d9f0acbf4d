// Package transport provides the WebSocket frame channel to the relay and
// the relay URL construction, including the Joiner's message-on-connect
// handshake parameter.
package transport
