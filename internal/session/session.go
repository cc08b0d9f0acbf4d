package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"obsidion/internal/codec"
	"obsidion/internal/crypto"
	"obsidion/internal/domain"
	"obsidion/internal/transport"
	"obsidion/internal/util/memzero"
)

// Config tunes one session. Zero values select the protocol defaults,
// except Reconnect, which is off unless set.
type Config struct {
	BridgeURL            string
	Reconnect            bool
	MaxReconnectAttempts int
	PingInterval         time.Duration
	ChunkWait            time.Duration
	GroupTTL             time.Duration
	Logger               *slog.Logger
}

const (
	defaultPingInterval  = 30 * time.Second
	defaultMaxReconnects = 10
)

func (c *Config) fillDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ChunkWait == 0 {
		c.ChunkWait = domain.ChunkWait
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session owns one SessionContext and the transport that feeds it.
type Session struct {
	cfg Config
	log *slog.Logger
	tr  domain.Transport

	mu   sync.Mutex
	sctx *domain.SessionContext
	seen mapset.Set[string]
	asm  *codec.Assembler
	ev   events

	connected          bool
	closed             bool
	intentional        bool
	attempts           int
	reconnecting       bool
	emittedEstablished bool

	pingStop       chan struct{}
	reconnectTimer *time.Timer
}

// New wires a session around its context and transport. The caller opens
// it with Connect.
func New(sctx *domain.SessionContext, tr domain.Transport, cfg Config) *Session {
	cfg.fillDefaults()
	s := &Session{
		cfg:  cfg,
		log:  cfg.Logger.With("role", sctx.Role.String(), "bridge", abbrev(sctx.BridgeID)),
		tr:   tr,
		sctx: sctx,
		seen: mapset.NewThreadUnsafeSet[string](),
	}
	s.asm = codec.NewAssembler(cfg.GroupTTL, func(chunkID string) {
		s.ev.errors.emit(fmt.Errorf("%w: chunk group %s evicted before completion", domain.ErrProtocol, chunkID))
	})
	tr.OnMessage(s.handleFrame)
	tr.OnClose(s.handleClose)
	return s
}

func abbrev(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Event subscriptions. Each returns an unsubscribe func.

func (s *Session) OnConnect(fn func(domain.Connected)) func() { return s.ev.connected.subscribe(fn) }

func (s *Session) OnSecureChannelEstablished(fn func()) func() {
	return s.ev.established.subscribe(func(struct{}) { fn() })
}

func (s *Session) OnSecureMessage(fn func(domain.Message)) func() {
	return s.ev.secureMessage.subscribe(fn)
}

func (s *Session) OnRawMessage(fn func(domain.Envelope)) func() {
	return s.ev.rawMessage.subscribe(fn)
}

func (s *Session) OnChunkReceived(fn func(domain.ChunkReceived)) func() {
	return s.ev.chunkReceived.subscribe(fn)
}

func (s *Session) OnError(fn func(error)) func() { return s.ev.errors.subscribe(fn) }

func (s *Session) OnFailedToConnect(fn func(domain.FailedToConnect)) func() {
	return s.ev.failedToConnect.subscribe(fn)
}

func (s *Session) OnDisconnect(fn func(domain.Disconnected)) func() {
	return s.ev.disconnected.subscribe(fn)
}

// Accessors.

// IsConnected reports whether the transport is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsSecureChannelEstablished reports whether both peers hold the secret.
func (s *Session) IsSecureChannelEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx.SecureChannelEstablished
}

// KeyPair returns a copy of the session key pair for persistence. Copies
// stay valid after Close zeroes the session's own material.
func (s *Session) KeyPair() domain.KeyPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.KeyPair{
		Private: cloneBytes(s.sctx.KeyPair.Private),
		Public:  cloneBytes(s.sctx.KeyPair.Public),
	}
}

// PublicKey returns the local compressed public key.
func (s *Session) PublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.sctx.KeyPair.Public)
}

// RemotePublicKey returns the peer's compressed public key: nil on a
// Creator before the handshake, set from the start on a Joiner, nil after
// Close.
func (s *Session) RemotePublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.sctx.RemotePublicKey)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BridgeID returns the relay routing key.
func (s *Session) BridgeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx.BridgeID
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.log }

// ValidMessagesReceived returns the accepted inbound envelope count.
func (s *Session) ValidMessagesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx.ValidMessagesReceived
}

// SendSecure encrypts and sends one application message, chunking and
// pacing as needed. It requires an established secure channel.
func (s *Session) SendSecure(method string, params any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	if !s.sctx.SecureChannelEstablished || len(s.sctx.SharedSecret) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: secure channel not established", domain.ErrProtocol)
	}
	secret := s.sctx.SharedSecret
	bridgeID := s.sctx.BridgeID

	envelopes, err := codec.EncodeSecure(method, params, secret, bridgeID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, env := range envelopes {
		s.seen.Add(env.ID)
	}
	pace := s.cfg.ChunkWait
	s.mu.Unlock()

	for i, env := range envelopes {
		if i > 0 {
			time.Sleep(pace)
		}
		if err := s.sendEnvelope(env); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the session down: intentional close on the transport,
// timers cancelled, listeners dropped, secrets zeroed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.intentional = true
	s.stopPingLocked()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	wasConnected := s.connected
	s.mu.Unlock()

	if wasConnected {
		s.tr.Close(domain.CloseCodeUser, domain.CloseReasonUser)
	}

	s.mu.Lock()
	memzero.Zero(s.sctx.SharedSecret)
	s.sctx.SharedSecret = nil
	memzero.Zero(s.sctx.RemotePublicKey)
	s.sctx.RemotePublicKey = nil
	memzero.Zero(s.sctx.KeyPair.Private)
	s.connected = false
	s.mu.Unlock()

	s.ev.clear()
	s.log.Info("session closed")
	return nil
}

// sendEnvelope marshals and writes one envelope.
func (s *Session) sendEnvelope(env domain.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.tr.Send(frame)
}

// newEnvelopeLocked builds an outer envelope with a fresh id and records the id
// so the relay echoing it back is not mistaken for peer traffic. Callers
// hold the lock.
func (s *Session) newEnvelopeLocked(method string, params any) (domain.Envelope, error) {
	id, err := crypto.RandomID()
	if err != nil {
		return domain.Envelope{}, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.Envelope{}, err
	}
	s.seen.Add(id)
	return domain.Envelope{
		JSONRPC: domain.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// handshakeEnvelopeLocked builds the Joiner's handshake: our public key
// plus the greeting, the literal "hello" sealed under the shared secret.
func (s *Session) handshakeEnvelopeLocked() (*domain.Envelope, error) {
	greeting, err := crypto.Encrypt([]byte(domain.GreetingPlaintext), s.sctx.SharedSecret, s.sctx.BridgeID)
	if err != nil {
		return nil, err
	}
	env, err := s.newEnvelopeLocked(domain.MethodHandshake, domain.HandshakeParams{
		PubKey:   s.sctx.KeyPair.PublicHex(),
		Greeting: hex.EncodeToString(greeting),
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// wsURLLocked rebuilds the relay URL for the next open. Only a Joiner that
// has not yet established the channel carries the message-on-connect
// handshake.
func (s *Session) wsURLLocked() (string, error) {
	var handshake *domain.Envelope
	if s.sctx.Role == domain.RoleJoiner && !s.sctx.SecureChannelEstablished {
		env, err := s.handshakeEnvelopeLocked()
		if err != nil {
			return "", err
		}
		handshake = env
	}
	return transport.WSURL(s.cfg.BridgeURL, s.sctx.BridgeID, handshake)
}

// Connect opens the transport for the first time.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	url, err := s.wsURLLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.tr.Open(ctx, url); err != nil {
		s.ev.failedToConnect.emit(domain.FailedToConnect{Reason: err.Error()})
		return err
	}
	s.afterOpen()
	return nil
}
