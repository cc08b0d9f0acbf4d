package session

import (
	"context"
	"time"

	"obsidion/internal/domain"
)

const (
	reconnectBaseDelay = time.Second
	reconnectDialLimit = 15 * time.Second
)

// afterOpen runs once per successful transport open: it restarts the
// keepalive, requests replay of missed frames on reconnection, and emits
// Connected (plus SecureChannelEstablished for pre-established sessions
// that never announced it on this side).
func (s *Session) afterOpen() {
	s.mu.Lock()
	reconnection := s.reconnecting
	s.reconnecting = false
	s.attempts = 0
	s.connected = true
	s.startPingLocked()

	var replay *domain.Envelope
	if reconnection && s.sctx.LastMessageTimestamp > 0 {
		env, err := s.newEnvelopeLocked(domain.MethodReplay, domain.ReplayParams{
			Timestamp: s.sctx.LastMessageTimestamp - 1000,
		})
		if err == nil {
			replay = &env
		}
	}
	announceEstablished := s.sctx.SecureChannelEstablished && !s.emittedEstablished
	if announceEstablished {
		s.emittedEstablished = true
	}
	s.mu.Unlock()

	if replay != nil {
		if err := s.sendEnvelope(*replay); err != nil {
			s.log.Debug("replay request failed", "err", err)
		}
	}
	s.log.Info("connected", "reconnection", reconnection)
	s.ev.connected.emit(domain.Connected{Reconnection: reconnection})
	if announceEstablished {
		s.ev.established.emit(struct{}{})
	}
}

// handleClose reacts to the transport closing underneath us.
func (s *Session) handleClose(code int, reason string, clean bool) {
	s.mu.Lock()
	if s.closed || s.intentional {
		s.connected = false
		s.stopPingLocked()
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.stopPingLocked()

	willReconnect := s.cfg.Reconnect && s.attempts < s.cfg.MaxReconnectAttempts
	if willReconnect {
		s.reconnecting = true
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.log.Info("disconnected", "code", code, "reason", reason, "reconnect", willReconnect)
	s.ev.disconnected.emit(domain.Disconnected{
		Code:          code,
		Reason:        reason,
		WasConnected:  true,
		WillReconnect: willReconnect,
	})
}

// scheduleReconnectLocked arms the timer for the next attempt: the first
// retry is immediate, later ones back off as 1s, 2s, 4s, ...
func (s *Session) scheduleReconnectLocked() {
	s.attempts++
	k := s.attempts
	var delay time.Duration
	if k >= 2 {
		delay = reconnectBaseDelay << (k - 2)
	}
	s.log.Debug("scheduling reconnect", "attempt", k, "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closed || s.connected {
		s.mu.Unlock()
		return
	}
	url, err := s.wsURLLocked()
	s.mu.Unlock()
	if err != nil {
		s.ev.errors.emit(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconnectDialLimit)
	err = s.tr.Open(ctx, url)
	cancel()
	if err == nil {
		s.afterOpen()
		return
	}

	s.mu.Lock()
	retry := !s.closed && s.attempts < s.cfg.MaxReconnectAttempts
	if retry {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.log.Debug("reconnect attempt failed", "err", err, "retry", retry)
	if !retry {
		s.ev.failedToConnect.emit(domain.FailedToConnect{Reason: err.Error()})
	}
}

// startPingLocked launches the keepalive loop for the current connection.
func (s *Session) startPingLocked() {
	s.stopPingLocked()
	stop := make(chan struct{})
	s.pingStop = stop
	interval := s.cfg.PingInterval
	go s.pingLoop(stop, interval)
}

func (s *Session) stopPingLocked() {
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
}

// pingLoop sends a ping every interval; the transport closing is the
// failure signal, no explicit pong timeout is enforced.
func (s *Session) pingLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			env, err := s.newEnvelopeLocked(domain.MethodPing, map[string]any{})
			s.mu.Unlock()
			if err != nil {
				continue
			}
			if err := s.sendEnvelope(env); err != nil {
				s.log.Debug("ping failed", "err", err)
			}
		}
	}
}
