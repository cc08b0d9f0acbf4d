package session

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"obsidion/internal/codec"
	"obsidion/internal/crypto"
	"obsidion/internal/domain"
)

// effects accumulates everything one frame produces while the lock is
// held; sends and listener callbacks run after release.
type effects struct {
	outbound []domain.Envelope
	events   []func(*events)
}

func (fx *effects) send(env domain.Envelope) { fx.outbound = append(fx.outbound, env) }
func (fx *effects) emit(fn func(*events))    { fx.events = append(fx.events, fn) }
func (fx *effects) fail(err error)           { fx.emit(func(ev *events) { ev.errors.emit(err) }) }

func (fx *effects) message(msg domain.Message) {
	fx.emit(func(ev *events) { ev.secureMessage.emit(msg) })
}

// handleFrame processes one inbound relay frame. Frames arrive serially
// from the transport read loop; the session lock is held across the full
// handling of each.
func (s *Session) handleFrame(frame []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.log.Debug("dropping unparseable frame", "err", err)
		return
	}

	var fx effects
	s.mu.Lock()
	if !s.closed {
		s.dispatchLocked(env, &fx)
	}
	s.mu.Unlock()

	for _, out := range fx.outbound {
		if err := s.sendEnvelope(out); err != nil {
			s.log.Debug("reply send failed", "method", out.Method, "err", err)
		}
	}
	s.ev.rawMessage.emit(env)
	for _, emit := range fx.events {
		emit(&s.ev)
	}
}

// dispatchLocked routes one envelope: keepalive control first, then the
// id gate (missing ids are out-of-band, duplicates are replays), then the
// method handlers.
func (s *Session) dispatchLocked(env domain.Envelope, fx *effects) {
	switch env.Method {
	case domain.MethodPing:
		if pong, err := s.newEnvelopeLocked(domain.MethodPong, map[string]any{}); err == nil {
			pong.Nocache = true
			fx.send(pong)
		}
		return
	case domain.MethodPong:
		return
	}

	if env.ID == "" {
		return
	}
	if s.seen.Contains(env.ID) {
		s.log.Debug("dropping duplicate envelope", "id", env.ID)
		return
	}
	s.seen.Add(env.ID)
	s.sctx.ValidMessagesReceived++
	s.sctx.LastMessageTimestamp = time.Now().UnixMilli()

	switch env.Method {
	case domain.MethodHandshake:
		s.handleHandshakeLocked(env, fx)
	case domain.MethodEncryptedMessage:
		s.handleEncryptedLocked(env, fx)
	case domain.MethodError:
		var p domain.ErrorParams
		if err := json.Unmarshal(env.Params, &p); err == nil && p.Message != "" {
			fx.fail(fmt.Errorf("%w: peer reported: %s", domain.ErrProtocol, p.Message))
		}
	default:
		s.log.Debug("ignoring envelope", "method", env.Method)
	}
}

// handleHandshakeLocked is the Creator side of the key agreement: parse
// the Joiner's public key, derive the secret, authenticate the greeting
// and answer with an encrypted hello.
func (s *Session) handleHandshakeLocked(env domain.Envelope, fx *effects) {
	if s.sctx.Role != domain.RoleCreator {
		s.log.Debug("ignoring handshake on joiner side")
		return
	}

	var p domain.HandshakeParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		fx.fail(fmt.Errorf("%w: parsing handshake params: %v", domain.ErrProtocol, err))
		return
	}
	remotePub, err := hex.DecodeString(p.PubKey)
	if err != nil {
		fx.fail(fmt.Errorf("%w: handshake pubkey is not hex: %v", domain.ErrProtocol, err))
		return
	}

	if s.sctx.SecureChannelEstablished && !bytes.Equal(remotePub, s.sctx.RemotePublicKey) {
		msg := "handshake rejected: secure channel already established with another peer"
		if reply, err := s.newEnvelopeLocked(domain.MethodError, domain.ErrorParams{Message: msg}); err == nil {
			fx.send(reply)
		}
		fx.fail(fmt.Errorf("%w: %s", domain.ErrProtocol, msg))
		return
	}

	firstHandshake := !s.sctx.SecureChannelEstablished
	secret := s.sctx.SharedSecret
	if firstHandshake {
		secret, err = crypto.DeriveSharedSecret(s.sctx.KeyPair.Private, remotePub)
		if err != nil {
			fx.fail(err)
			return
		}
	}

	greeting, err := hex.DecodeString(p.Greeting)
	if err != nil {
		fx.fail(fmt.Errorf("%w: handshake greeting is not hex: %v", domain.ErrProtocol, err))
		return
	}
	plain, err := crypto.Decrypt(greeting, secret, s.sctx.BridgeID)
	if err != nil {
		fx.fail(fmt.Errorf("handshake greeting: %w", err))
		return
	}
	if string(plain) != domain.GreetingPlaintext {
		fx.fail(fmt.Errorf("%w: invalid handshake greeting", domain.ErrProtocol))
		return
	}

	if firstHandshake {
		s.sctx.RemotePublicKey = remotePub
		s.sctx.SharedSecret = secret
	}

	// Encrypted hello reply completes the Joiner's side.
	hello, err := codec.EncodeSecure(domain.MethodHello, nil, secret, s.sctx.BridgeID)
	if err != nil {
		fx.fail(err)
		return
	}
	s.seen.Add(hello[0].ID)
	fx.send(hello[0])

	if firstHandshake {
		s.sctx.SecureChannelEstablished = true
	}
	if !s.emittedEstablished {
		s.emittedEstablished = true
		s.log.Info("secure channel established")
		fx.emit(func(ev *events) { ev.established.emit(struct{}{}) })
	}
}

// handleEncryptedLocked runs the inbound envelope pipeline: origin check
// (Joiner), decrypt, then the single-part or chunked path.
func (s *Session) handleEncryptedLocked(env domain.Envelope, fx *effects) {
	if s.sctx.Role == domain.RoleJoiner {
		expected := reduceOrigin(s.sctx.BridgeOrigin)
		received := reduceOrigin(env.Origin)
		if expected != received {
			fx.fail(fmt.Errorf("%w: expected origin %q, received %q",
				domain.ErrOriginMismatch, expected, received))
			return
		}
	}
	if len(s.sctx.SharedSecret) == 0 {
		fx.fail(fmt.Errorf("%w: encrypted message before key agreement", domain.ErrProtocol))
		return
	}

	var p domain.EncryptedParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		fx.fail(fmt.Errorf("%w: parsing encrypted params: %v", domain.ErrProtocol, err))
		return
	}
	inner, err := codec.DecodeInner(p.Payload, s.sctx.SharedSecret, s.sctx.BridgeID)
	if err != nil {
		fx.fail(err)
		return
	}

	if inner.Chunk == nil || inner.Chunk.Length == 1 {
		s.handleSinglePartLocked(inner, fx)
		return
	}

	part, err := codec.ChunkPart(inner.Params)
	if err != nil {
		fx.fail(err)
		return
	}
	blob, done, err := s.asm.Add(*inner.Chunk, part)
	if err != nil {
		fx.fail(err)
		return
	}
	if !done {
		chunk := domain.ChunkReceived{ID: inner.Chunk.ID, Index: inner.Chunk.Index, Length: inner.Chunk.Length}
		fx.emit(func(ev *events) { ev.chunkReceived.emit(chunk) })
		return
	}
	params, err := codec.DecodeBlob(blob)
	if err != nil {
		fx.fail(err)
		return
	}
	fx.message(domain.Message{Method: inner.Method, Params: params})
}

func (s *Session) handleSinglePartLocked(inner domain.Inner, fx *effects) {
	if inner.Method == domain.MethodHello {
		if !s.sctx.SecureChannelEstablished {
			s.sctx.SecureChannelEstablished = true
		}
		if !s.emittedEstablished {
			s.emittedEstablished = true
			s.log.Info("secure channel established")
			fx.emit(func(ev *events) { ev.established.emit(struct{}{}) })
		}
		return
	}
	params, err := codec.DecodeSingleParams(inner.Params)
	if err != nil {
		fx.fail(err)
		return
	}
	fx.message(domain.Message{Method: inner.Method, Params: params})
}

// reduceOrigin normalizes an origin to scheme://host, dropping ports and
// paths. Values that do not parse as URLs (such as "nodejs") compare raw.
func reduceOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return origin
	}
	return u.Scheme + "://" + u.Hostname()
}
