// Package conn owns the lifecycle of the single bidirectional channel to
// the server: dialing, liveness, reconnection with backoff, and the
// resync signal consumed by the stores after each reconnect.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/channel"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send while no channel is established.
// Callers do not treat it as failure: the outbox keeps the action queued
// for the post-reconnect flush.
var ErrNotConnected = errors.New("not connected")

// sendTimeout bounds one send attempt so a stalled socket degrades the
// connection instead of wedging the caller.
const sendTimeout = 10 * time.Second

// Manager owns the one channel every component sends through. It is the
// only place a socket is opened; on unexpected drop it redials forever
// with jittered exponential backoff while the application context is
// alive.
type Manager struct {
	dialer  channel.Dialer
	tokens  auth.TokenSource
	log     *zerolog.Logger
	clock   clock.Clock
	backoff Backoff

	events chan proto.Event
	resync chan struct{}

	// mu guards the live channel handle and status subscribers; it is
	// I/O plumbing, not store state, so the loop-only rule does not
	// apply here.
	mu         sync.Mutex
	status     Status
	ch         channel.Channel
	statusSubs []chan Status
}

// New constructs a manager. The dialer is invoked with a fresh token
// from the token source on every attempt.
func New(logger *zerolog.Logger, dialer channel.Dialer, tokens auth.TokenSource, clk clock.Clock, backoff Backoff) *Manager {
	return &Manager{
		dialer:  dialer,
		tokens:  tokens,
		log:     logger,
		clock:   clk,
		backoff: backoff,
		events:  make(chan proto.Event, 64),
		resync:  make(chan struct{}, 1),
	}
}

// Events is the inbound event stream, in channel arrival order.
func (m *Manager) Events() <-chan proto.Event {
	return m.events
}

// Resync signals once after every successful (re)connect. Buffered with
// capacity one: coalescing is fine, missing a reconnect is not.
func (m *Manager) Resync() <-chan struct{} {
	return m.resync
}

// SubscribeStatus returns a buffered status feed; slow consumers drop
// intermediate transitions.
func (m *Manager) SubscribeStatus() <-chan Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Status, 8)
	m.statusSubs = append(m.statusSubs, ch)
	return ch
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Send pushes an event over the live channel. ErrNotConnected while
// disconnected; a failed write degrades the connection and the receive
// pump tears it down.
func (m *Manager) Send(ctx context.Context, ev proto.Event) error {
	m.mu.Lock()
	ch := m.ch
	ok := m.status == StatusConnected || m.status == StatusDegraded
	m.mu.Unlock()

	if ch == nil || !ok {
		return ErrNotConnected
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := ch.Send(sendCtx, ev); err != nil {
		m.setStatus(StatusDegraded)
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

// Run dials and pumps the channel until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for ctx.Err() == nil {
		m.setStatus(StatusConnecting)

		ch, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			delay := m.backoff.Next()
			m.log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			if !m.sleep(ctx, delay) {
				break
			}
			continue
		}

		m.backoff.Reset()
		m.setChannel(ch)
		m.setStatus(StatusConnected)
		m.log.Info().Msg("connected")

		// Every reconnect needs a state catch-up.
		select {
		case m.resync <- struct{}{}:
		default:
		}

		err = m.pump(ctx, ch)
		m.setChannel(nil)
		_ = ch.Close()
		m.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			break
		}
		m.log.Warn().Err(err).Msg("connection dropped")
	}

	m.setStatus(StatusDisconnected)
}

func (m *Manager) dial(ctx context.Context) (channel.Channel, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return m.dialer.Dial(ctx, token)
}

// pump forwards inbound events in order until the channel dies.
func (m *Manager) pump(ctx context.Context, ch channel.Channel) error {
	for {
		ev, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m.events <- ev:
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := m.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setChannel(ch channel.Channel) {
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	subs := m.statusSubs
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- s:
		default:
			// Drop if slow consumer.
		}
	}
}
