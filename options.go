package obsidion

import (
	"fmt"
	"log/slog"
	"time"

	"obsidion/internal/crypto"
	"obsidion/internal/domain"
	"obsidion/internal/session"
	"obsidion/internal/transport"
)

// Options configures Create and Join. The zero value is valid for Join;
// Create additionally requires Origin.
type Options struct {
	// KeyPair supplies session keys; a fresh pair is generated when nil.
	// Sessions must not reuse a key pair together with the same bridge id,
	// or the deterministic AEAD nonce loses its guarantees.
	KeyPair *KeyPair

	// RemotePublicKey is the peer's compressed public key. Only valid
	// together with Resume; Join reads it from the connection string.
	RemotePublicKey []byte

	// Origin is the declared origin sent in the WebSocket upgrade headers
	// and encoded into the Creator's connection string. Required for
	// Create; Join defaults to "nodejs".
	Origin string

	// BridgeURL overrides the relay endpoint.
	BridgeURL string

	// Resume restores a previously established session: the handshake is
	// skipped and the secure channel is reported immediately. Requires
	// KeyPair (and, for Create, RemotePublicKey).
	Resume bool

	// AutoConnect opens the transport inside Create (default true). Join
	// always connects.
	AutoConnect *bool

	// Reconnect re-opens the transport after unintentional closes with
	// exponential backoff (default true).
	Reconnect *bool

	// MaxReconnectAttempts caps one reconnection episode (default 10).
	MaxReconnectAttempts int

	// PingInterval spaces keepalive pings (default 30s).
	PingInterval time.Duration

	// ChunkWait paces chunked sends (default 50ms).
	ChunkWait time.Duration

	// Logger receives structured session logs (default slog.Default()).
	Logger *slog.Logger

	// Transport injects a frame channel, mainly for tests; by default a
	// WebSocket transport is dialed.
	Transport domain.Transport
}

func (o *Options) validateCreate() error {
	if o.Origin == "" {
		return fmt.Errorf("%w: origin is required", domain.ErrConfiguration)
	}
	if len(o.RemotePublicKey) > 0 && !o.Resume {
		return fmt.Errorf("%w: remote public key is only valid when resuming", domain.ErrConfiguration)
	}
	if o.Resume {
		if o.KeyPair == nil || len(o.RemotePublicKey) == 0 {
			return fmt.Errorf("%w: resuming requires both the key pair and the remote public key", domain.ErrConfiguration)
		}
	}
	return o.validateKeyPair()
}

func (o *Options) validateJoin() error {
	if len(o.RemotePublicKey) > 0 {
		return fmt.Errorf("%w: the remote public key comes from the connection string", domain.ErrConfiguration)
	}
	if o.Resume && o.KeyPair == nil {
		return fmt.Errorf("%w: resuming requires the key pair", domain.ErrConfiguration)
	}
	return o.validateKeyPair()
}

func (o *Options) validateKeyPair() error {
	if o.KeyPair != nil && !o.KeyPair.Valid() {
		return fmt.Errorf("%w: key pair has wrong lengths", domain.ErrConfiguration)
	}
	return nil
}

// keyPairOrGenerate clones caller-supplied key material so that Close can
// zero the session's copy without touching the caller's.
func (o *Options) keyPairOrGenerate() (domain.KeyPair, error) {
	if o.KeyPair == nil {
		return crypto.GenerateKeyPair()
	}
	priv := make([]byte, len(o.KeyPair.Private))
	copy(priv, o.KeyPair.Private)
	pub := make([]byte, len(o.KeyPair.Public))
	copy(pub, o.KeyPair.Public)
	return domain.KeyPair{Private: priv, Public: pub}, nil
}

func (o *Options) autoConnect() bool { return o.AutoConnect == nil || *o.AutoConnect }

func (o *Options) transportOrDial(origin string) domain.Transport {
	if o.Transport != nil {
		return o.Transport
	}
	return transport.NewWebSocket(origin, o.Logger)
}

func (o *Options) sessionConfig() session.Config {
	return session.Config{
		BridgeURL:            o.BridgeURL,
		Reconnect:            o.Reconnect == nil || *o.Reconnect,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
		PingInterval:         o.PingInterval,
		ChunkWait:            o.ChunkWait,
		Logger:               o.Logger,
	}
}
