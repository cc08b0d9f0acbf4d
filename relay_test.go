package obsidion_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"obsidion/internal/domain"
)

// memRelay is an in-memory stand-in for the bridge server: it routes
// frames between peers sharing a bridge id, attaches the sender's origin,
// broadcasts message-on-connect handshakes, and answers replay requests
// from its frame history.
type memRelay struct {
	mu      sync.Mutex
	peers   map[string][]*memTransport
	history map[string][]relayFrame
}

type relayFrame struct {
	data []byte
	ts   int64
}

func newMemRelay() *memRelay {
	return &memRelay{
		peers:   make(map[string][]*memTransport),
		history: make(map[string][]relayFrame),
	}
}

// transport hands out an unopened client endpoint declaring an origin.
func (r *memRelay) transport(origin string) *memTransport {
	return &memTransport{relay: r, origin: origin}
}

func (r *memRelay) register(t *memTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[t.bridgeID] = append(r.peers[t.bridgeID], t)
}

func (r *memRelay) unregister(t *memTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := r.peers[t.bridgeID]
	for i, p := range peers {
		if p == t {
			r.peers[t.bridgeID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
}

// route forwards one frame from a peer, mirroring the relay contract.
func (r *memRelay) route(from *memTransport, frame []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return
	}

	if env.Method == domain.MethodReplay {
		var rp domain.ReplayParams
		if err := json.Unmarshal(env.Params, &rp); err != nil {
			return
		}
		r.mu.Lock()
		frames := append([]relayFrame(nil), r.history[from.bridgeID]...)
		r.mu.Unlock()
		for _, f := range frames {
			if f.ts >= rp.Timestamp {
				from.enqueue(f.data)
			}
		}
		return
	}
	if env.Method == domain.MethodPing {
		pong, _ := json.Marshal(domain.Envelope{
			JSONRPC: domain.JSONRPCVersion,
			Method:  domain.MethodPong,
			Params:  json.RawMessage(`{}`),
		})
		from.enqueue(pong)
		return
	}

	env.Origin = from.origin
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	r.mu.Lock()
	if !env.Nocache {
		r.history[from.bridgeID] = append(r.history[from.bridgeID], relayFrame{data: data, ts: time.Now().UnixMilli()})
	}
	var targets []*memTransport
	for _, p := range r.peers[from.bridgeID] {
		if p != from {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.enqueue(data)
	}
}

// memTransport implements domain.Transport against the memRelay.
type memTransport struct {
	relay  *memRelay
	origin string

	onMessage func([]byte)
	onClose   func(code int, reason string, clean bool)

	mu       sync.Mutex
	open     bool
	bridgeID string
	inbox    chan []byte
	done     chan struct{}
}

var _ domain.Transport = (*memTransport)(nil)

func (t *memTransport) OnMessage(fn func([]byte))          { t.onMessage = fn }
func (t *memTransport) OnClose(fn func(int, string, bool)) { t.onClose = fn }

func (t *memTransport) Open(_ context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	q := u.Query()

	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return fmt.Errorf("%w: already open", domain.ErrTransport)
	}
	t.open = true
	t.bridgeID = q.Get("id")
	t.inbox = make(chan []byte, 256)
	t.done = make(chan struct{})
	inbox, done := t.inbox, t.done
	t.mu.Unlock()

	t.relay.register(t)
	go t.pump(inbox, done)

	if moc := q.Get("moc"); moc != "" {
		frame, err := base64.StdEncoding.DecodeString(moc)
		if err != nil {
			return fmt.Errorf("%w: bad moc: %v", domain.ErrTransport, err)
		}
		t.relay.route(t, frame)
	}
	return nil
}

func (t *memTransport) pump(inbox chan []byte, done chan struct{}) {
	for {
		select {
		case frame := <-inbox:
			if t.onMessage != nil {
				t.onMessage(frame)
			}
		case <-done:
			return
		}
	}
}

func (t *memTransport) Send(frame []byte) error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if !open {
		return fmt.Errorf("%w: not connected", domain.ErrTransport)
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	t.relay.route(t, cp)
	return nil
}

func (t *memTransport) enqueue(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return
	}
	select {
	case t.inbox <- frame:
	default:
	}
}

func (t *memTransport) Close(code int, reason string) error {
	t.shutdown(code, reason, code == domain.CloseCodeUser)
	return nil
}

// drop simulates the relay vanishing without a close handshake.
func (t *memTransport) drop() {
	t.shutdown(1006, "abnormal closure", false)
}

func (t *memTransport) shutdown(code int, reason string, clean bool) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.open = false
	close(t.done)
	t.mu.Unlock()

	t.relay.unregister(t)
	if t.onClose != nil {
		t.onClose(code, reason, clean)
	}
}
