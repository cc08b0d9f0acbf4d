// Package obsidion provides an end-to-end encrypted message channel
// between two peers whose only rendezvous is an untrusted WebSocket
// relay. One side calls Create and publishes the connection string (for
// example as a QR code); the other side calls Join with it. After the
// handshake both sides exchange encrypted messages with SendMessage and
// the OnSecureMessage event.
//
//	bridge, err := obsidion.Create(ctx, obsidion.Options{Origin: "https://example.com"})
//	if err != nil {
//		return err
//	}
//	defer bridge.Close()
//	fmt.Println(bridge.ConnectionString())
//
//	bridge.OnSecureMessage(func(msg obsidion.Message) {
//		fmt.Println(msg.Method, msg.Params)
//	})
package obsidion

import (
	"context"
	"fmt"

	"obsidion/internal/crypto"
	"obsidion/internal/domain"
	"obsidion/internal/session"
	"obsidion/internal/transport"
)

// Re-exported domain types forming the public surface.
type (
	KeyPair         = domain.KeyPair
	Message         = domain.Message
	Connected       = domain.Connected
	Disconnected    = domain.Disconnected
	FailedToConnect = domain.FailedToConnect
	ChunkReceived   = domain.ChunkReceived
	Envelope        = domain.Envelope
)

// Sentinel errors.
var (
	ErrConfiguration = domain.ErrConfiguration
	ErrClosed        = domain.ErrClosed
)

// Bridge is one end of a session.
type Bridge struct {
	s                *session.Session
	connectionString string
}

// Create opens the Creator side. The returned bridge's connection string
// encodes the public key and the declared origin; hand it to the Joiner.
// Transport failures after validation are reported through events, never
// as a synchronous error.
func Create(ctx context.Context, opts Options) (*Bridge, error) {
	if err := opts.validateCreate(); err != nil {
		return nil, err
	}

	keyPair, err := opts.keyPairOrGenerate()
	if err != nil {
		return nil, err
	}
	bridgeID := keyPair.PublicHex()

	sctx := &domain.SessionContext{
		Role:     domain.RoleCreator,
		KeyPair:  keyPair,
		BridgeID: bridgeID,
		Origin:   opts.Origin,
	}
	if opts.Resume {
		secret, err := crypto.DeriveSharedSecret(keyPair.Private, opts.RemotePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		remote := make([]byte, len(opts.RemotePublicKey))
		copy(remote, opts.RemotePublicKey)
		sctx.RemotePublicKey = remote
		sctx.SharedSecret = secret
		sctx.SecureChannelEstablished = true
		sctx.ResumedSession = true
	}

	b := &Bridge{
		s:                session.New(sctx, opts.transportOrDial(opts.Origin), opts.sessionConfig()),
		connectionString: FormatConnectionString(bridgeID, opts.Origin),
	}
	if opts.autoConnect() || opts.Resume {
		if err := b.s.Connect(ctx); err != nil {
			b.s.Logger().Warn("initial connect failed", "err", err)
		}
	}
	return b, nil
}

// Join opens the Joiner side from a connection string.
func Join(ctx context.Context, uri string, opts Options) (*Bridge, error) {
	remoteHex, bridgeOrigin, err := ParseConnectionString(uri)
	if err != nil {
		return nil, err
	}
	if err := opts.validateJoin(); err != nil {
		return nil, err
	}

	remotePub, err := decodePublicKeyHex(remoteHex)
	if err != nil {
		return nil, err
	}
	keyPair, err := opts.keyPairOrGenerate()
	if err != nil {
		return nil, err
	}
	secret, err := crypto.DeriveSharedSecret(keyPair.Private, remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	sctx := &domain.SessionContext{
		Role:            domain.RoleJoiner,
		KeyPair:         keyPair,
		RemotePublicKey: remotePub,
		SharedSecret:    secret,
		BridgeID:        remoteHex,
		BridgeOrigin:    bridgeOrigin,
	}
	if opts.Resume {
		sctx.SecureChannelEstablished = true
		sctx.ResumedSession = true
	}

	origin := opts.Origin
	if origin == "" {
		origin = "nodejs"
	}
	b := &Bridge{
		s:                session.New(sctx, opts.transportOrDial(origin), opts.sessionConfig()),
		connectionString: uri,
	}
	// The Joiner always connects immediately.
	if err := b.s.Connect(ctx); err != nil {
		b.s.Logger().Warn("initial connect failed", "err", err)
	}
	return b, nil
}

// Connect opens the transport when AutoConnect was disabled, or retries
// after a failed initial connect.
func (b *Bridge) Connect(ctx context.Context) error { return b.s.Connect(ctx) }

// SendMessage encrypts and sends one application message over the secure
// channel.
func (b *Bridge) SendMessage(method string, params any) error {
	return b.s.SendSecure(method, params)
}

// Close tears the bridge down and zeroes its key material.
func (b *Bridge) Close() error { return b.s.Close() }

// IsBridgeConnected reports whether the transport is open.
func (b *Bridge) IsBridgeConnected() bool { return b.s.IsConnected() }

// IsSecureChannelEstablished reports whether the handshake completed.
func (b *Bridge) IsSecureChannelEstablished() bool { return b.s.IsSecureChannelEstablished() }

// PublicKey returns the local compressed public key.
func (b *Bridge) PublicKey() []byte { return b.s.PublicKey() }

// RemotePublicKey returns the peer's compressed public key. On the Creator
// side it is nil until the handshake completes; a Joiner has it from the
// connection string.
func (b *Bridge) RemotePublicKey() []byte { return b.s.RemotePublicKey() }

// KeyPair returns the session key pair, e.g. for resumption persistence.
func (b *Bridge) KeyPair() KeyPair { return b.s.KeyPair() }

// ConnectionString returns the rendezvous string for this session.
func (b *Bridge) ConnectionString() string { return b.connectionString }

// Event subscriptions. Each returns an unsubscribe func.

func (b *Bridge) OnConnect(fn func(Connected)) func() { return b.s.OnConnect(fn) }

func (b *Bridge) OnSecureChannelEstablished(fn func()) func() {
	return b.s.OnSecureChannelEstablished(fn)
}

func (b *Bridge) OnSecureMessage(fn func(Message)) func() { return b.s.OnSecureMessage(fn) }

func (b *Bridge) OnRawMessage(fn func(Envelope)) func() { return b.s.OnRawMessage(fn) }

func (b *Bridge) OnError(fn func(error)) func() { return b.s.OnError(fn) }

func (b *Bridge) OnFailedToConnect(fn func(FailedToConnect)) func() { return b.s.OnFailedToConnect(fn) }

func (b *Bridge) OnDisconnect(fn func(Disconnected)) func() { return b.s.OnDisconnect(fn) }

// DefaultBridgeURL is the public relay endpoint used when Options leaves
// BridgeURL empty.
const DefaultBridgeURL = transport.DefaultBridgeURL
