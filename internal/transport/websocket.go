package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"obsidion/internal/domain"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
	closeGracePeriod = time.Second
	// readLimit bounds one relay frame; envelopes are capped well below.
	readLimit = 1 << 20
)

// WebSocket is the gorilla-backed Transport. A non-empty origin is sent in
// the upgrade headers so the relay can attach it to forwarded frames.
type WebSocket struct {
	origin string
	log    *slog.Logger

	onMessage func([]byte)
	onClose   func(code int, reason string, clean bool)

	mu   sync.Mutex
	conn *websocket.Conn
	gen  int
}

// NewWebSocket returns an unopened transport.
func NewWebSocket(origin string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{origin: origin, log: logger}
}

var _ domain.Transport = (*WebSocket)(nil)

// OnMessage registers the inbound frame callback. Frames are delivered
// serially from the read loop.
func (w *WebSocket) OnMessage(fn func([]byte)) { w.onMessage = fn }

// OnClose registers the close callback, fired once per successful Open.
func (w *WebSocket) OnClose(fn func(code int, reason string, clean bool)) { w.onClose = fn }

// Open dials the relay and starts the read loop. Reopening after a close
// is allowed; callbacks carry over.
func (w *WebSocket) Open(ctx context.Context, wsURL string) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	header := make(http.Header)
	if w.origin != "" {
		header.Set("Origin", w.origin)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dialing relay: %v (HTTP status %s)", domain.ErrTransport, err, resp.Status)
		}
		return fmt.Errorf("%w: dialing relay: %v", domain.ErrTransport, err)
	}
	conn.SetReadLimit(readLimit)

	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: transport already open", domain.ErrTransport)
	}
	w.conn = conn
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	go w.readLoop(conn, gen)
	return nil
}

// Send writes one text frame.
func (w *WebSocket) Send(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrTransport)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: writing frame: %v", domain.ErrTransport, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. The read loop
// reports the closure through OnClose.
func (w *WebSocket) Close(code int, reason string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	// Give the peer a moment to echo the close frame before dropping hard.
	time.Sleep(closeGracePeriod / 10)
	// The read loop may already have closed the conn after the echoed close
	// frame; that is still a clean close.
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, gen int) {
	var (
		code   = websocket.CloseAbnormalClosure
		reason string
	)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				w.log.Debug("websocket read failed", "err", err)
			}
			break
		}
		if w.onMessage != nil {
			w.onMessage(frame)
		}
	}

	w.mu.Lock()
	if w.gen == gen && w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
	conn.Close()

	if w.onClose != nil {
		w.onClose(code, reason, code == websocket.CloseNormalClosure)
	}
}
