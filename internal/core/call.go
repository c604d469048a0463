package core

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// CallState is the negotiation state of a call session.
type CallState int

const (
	CallIdle CallState = iota
	CallOutgoingOffer
	CallAwaitingAnswer
	CallIncomingOffer
	CallNegotiatingICE
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoingOffer:
		return "outgoing-offer"
	case CallAwaitingAnswer:
		return "awaiting-answer"
	case CallIncomingOffer:
		return "incoming-offer"
	case CallNegotiatingICE:
		return "negotiating-ice"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Role distinguishes the local side of a call.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// End reasons carried on the terminal transition.
const (
	EndReasonLocalHangup  = "local_hangup"
	EndReasonRemoteHangup = "remote_hangup"
	EndReasonRejected     = "rejected"
	EndReasonTimeout      = "timeout"
	EndReasonError        = "negotiation_error"
	EndReasonBusy         = "busy"
)

// Media is the session-description side of the external media layer.
// The machine negotiates through it; capture, encoding and the actual
// peer transport stay outside the core.
type Media interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// MediaFactory builds one Media per call attempt.
type MediaFactory func(callID string) (Media, error)

// CallSession is one call attempt. Fields are mutated only on the loop.
type CallSession struct {
	ID             string
	ConversationID string
	LocalRole      Role
	State          CallState

	LocalDescription  *webrtc.SessionDescription
	RemoteDescription *webrtc.SessionDescription

	// pendingICE buffers candidates that arrived before both
	// descriptions were set. Flushed exactly once.
	pendingICE   []webrtc.ICECandidateInit
	connectivity bool

	StartedAt time.Time
	EndedAt   time.Time
	EndReason string

	media   Media
	timeout *clock.Timer
}

// CallInfo is the snapshot published to subscribers on every transition.
type CallInfo struct {
	ID             string
	ConversationID string
	LocalRole      Role
	State          CallState
	EndReason      string
}

// CallMachine drives peer-to-peer call negotiation over the shared
// channel. It holds at most one live session for the local participant;
// all methods must run on the loop.
type CallMachine struct {
	notifier

	log   *zerolog.Logger
	loop  *Loop
	clock clock.Clock
	send  SendFunc
	media MediaFactory

	negotiationTimeout time.Duration

	session *CallSession
}

// NewCallMachine constructs an idle machine.
func NewCallMachine(logger *zerolog.Logger, loop *Loop, clk clock.Clock, send SendFunc, media MediaFactory, negotiationTimeout time.Duration) *CallMachine {
	return &CallMachine{
		log:                logger,
		loop:               loop,
		clock:              clk,
		send:               send,
		media:              media,
		negotiationTimeout: negotiationTimeout,
	}
}

// Session returns a snapshot of the live session, if any.
func (m *CallMachine) Session() (CallInfo, bool) {
	if m.session == nil {
		return CallInfo{}, false
	}
	return m.info(), true
}

// StartCall creates a session for the conversation, produces a local
// offer and transmits it. Valid only while idle: a live session for the
// same conversation yields ErrConcurrentCall, any other live session
// ErrInvalidState.
func (m *CallMachine) StartCall(conversationID string) (string, error) {
	if m.session != nil {
		if m.session.ConversationID == conversationID {
			return "", ErrConcurrentCall
		}
		return "", fmt.Errorf("%w: call %s already live", ErrInvalidState, m.session.ID)
	}

	callID := uuid.NewString()
	media, err := m.media(callID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	s := &CallSession{
		ID:             callID,
		ConversationID: conversationID,
		LocalRole:      RoleCaller,
		State:          CallOutgoingOffer,
		StartedAt:      m.clock.Now(),
		media:          media,
	}
	m.session = s

	offer, err := media.CreateOffer()
	if err != nil {
		m.endSession(s, EndReasonError, false)
		return "", fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}
	s.LocalDescription = &offer

	ev := proto.MustNew(proto.KindCallOffer, proto.CallOffer{
		CallID:         callID,
		ConversationID: conversationID,
		Description:    offer,
	})
	if err := m.send(ev); err != nil {
		m.endSession(s, EndReasonError, false)
		return "", fmt.Errorf("%w: send offer: %v", ErrNegotiationFailed, err)
	}

	s.State = CallAwaitingAnswer
	m.armTimeout(s)
	m.log.Info().Str("call_id", callID).Str("conversation_id", conversationID).Msg("call started")
	m.publishCall(s)
	return callID, nil
}

// ReceiveOffer handles an inbound call:offer. While a session is live,
// the new call is declined as busy without disturbing the current one.
// The offer is surfaced to the presentation layer for an accept/reject
// decision; nothing is auto-accepted.
func (m *CallMachine) ReceiveOffer(offer proto.CallOffer) {
	if m.session != nil {
		if m.session.ID == offer.CallID {
			return // duplicate delivery
		}
		m.log.Info().Str("call_id", offer.CallID).Msg("busy, declining incoming call")
		m.sendEnd(offer.CallID, EndReasonBusy)
		return
	}

	remote := offer.Description
	s := &CallSession{
		ID:                offer.CallID,
		ConversationID:    offer.ConversationID,
		LocalRole:         RoleCallee,
		State:             CallIncomingOffer,
		RemoteDescription: &remote,
		StartedAt:         m.clock.Now(),
	}
	m.session = s
	m.armTimeout(s)
	m.log.Info().Str("call_id", s.ID).Str("conversation_id", s.ConversationID).Msg("incoming call")
	m.publishCall(s)
}

// AcceptCall answers the ringing call: produces a local answer
// description, transmits it, and moves to ICE negotiation.
func (m *CallMachine) AcceptCall() error {
	s := m.session
	if s == nil || s.State != CallIncomingOffer {
		return fmt.Errorf("%w: no ringing call to accept", ErrInvalidState)
	}

	media, err := m.media(s.ID)
	if err != nil {
		m.failNegotiation(s, "create media", err)
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	s.media = media

	if err := media.SetRemoteDescription(*s.RemoteDescription); err != nil {
		m.failNegotiation(s, "set remote description", err)
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	answer, err := media.CreateAnswer()
	if err != nil {
		m.failNegotiation(s, "create answer", err)
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	s.LocalDescription = &answer

	ev := proto.MustNew(proto.KindCallAnswer, proto.CallAnswer{
		CallID:      s.ID,
		Description: answer,
	})
	if err := m.send(ev); err != nil {
		m.failNegotiation(s, "send answer", err)
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	s.State = CallNegotiatingICE
	m.flushICE(s)
	m.publishCall(s)
	m.maybeActive(s)
	return nil
}

// RejectCall declines the ringing call.
func (m *CallMachine) RejectCall() error {
	s := m.session
	if s == nil || s.State != CallIncomingOffer {
		return fmt.Errorf("%w: no ringing call to reject", ErrInvalidState)
	}
	m.endSession(s, EndReasonRejected, true)
	return nil
}

// ReceiveAnswer handles an inbound call:answer. Valid only while
// awaiting one; a late answer for an ended call is stale and ignored.
func (m *CallMachine) ReceiveAnswer(answer proto.CallAnswer) {
	s := m.session
	if s == nil || s.ID != answer.CallID {
		m.log.Debug().Str("call_id", answer.CallID).Msg("answer for untracked call ignored")
		return
	}
	if s.State != CallAwaitingAnswer {
		m.log.Debug().Str("call_id", s.ID).Str("state", s.State.String()).Msg("unexpected answer ignored")
		return
	}

	if err := s.media.SetRemoteDescription(answer.Description); err != nil {
		m.failNegotiation(s, "set remote description", err)
		return
	}
	remote := answer.Description
	s.RemoteDescription = &remote
	s.State = CallNegotiatingICE
	m.flushICE(s)
	m.publishCall(s)
	m.maybeActive(s)
}

// ReceiveICECandidate applies a candidate immediately when both
// descriptions are set, and buffers it otherwise. Candidates legally
// arrive before the description that makes them meaningful.
func (m *CallMachine) ReceiveICECandidate(ice proto.CallICE) {
	s := m.session
	if s == nil || s.ID != ice.CallID {
		m.log.Debug().Str("call_id", ice.CallID).Msg("candidate for untracked call ignored")
		return
	}
	if s.LocalDescription == nil || s.RemoteDescription == nil {
		s.pendingICE = append(s.pendingICE, ice.Candidate)
		return
	}
	if err := s.media.AddICECandidate(ice.Candidate); err != nil {
		m.failNegotiation(s, "add candidate", err)
	}
}

// ConnectivityEstablished is the external transport's signal that the
// peer link works. The session goes active only once both descriptions
// are set as well.
func (m *CallMachine) ConnectivityEstablished(callID string) {
	s := m.session
	if s == nil || s.ID != callID {
		m.log.Debug().Str("call_id", callID).Msg("connectivity for untracked call ignored")
		return
	}
	s.connectivity = true
	m.maybeActive(s)
}

// ReceiveEnd handles a remote hangup or decline.
func (m *CallMachine) ReceiveEnd(end proto.CallEnd) {
	s := m.session
	if s == nil || s.ID != end.CallID {
		m.log.Debug().Str("call_id", end.CallID).Msg("end for untracked call ignored")
		return
	}
	reason := end.Reason
	if reason == "" {
		reason = EndReasonRemoteHangup
	}
	m.endSession(s, reason, false)
}

// EndCall hangs up locally. Valid from any non-terminal state.
func (m *CallMachine) EndCall(reason string) error {
	s := m.session
	if s == nil {
		return fmt.Errorf("%w: no call to end", ErrInvalidState)
	}
	if reason == "" {
		reason = EndReasonLocalHangup
	}
	m.endSession(s, reason, true)
	return nil
}

func (m *CallMachine) maybeActive(s *CallSession) {
	if s.State != CallNegotiatingICE {
		return
	}
	if s.LocalDescription == nil || s.RemoteDescription == nil || !s.connectivity {
		return
	}
	s.State = CallActive
	if s.timeout != nil {
		s.timeout.Stop()
	}
	m.log.Info().Str("call_id", s.ID).Msg("call active")
	m.publishCall(s)
}

// flushICE drains buffered candidates into the media layer. The buffer
// is nilled so each candidate is applied exactly once.
func (m *CallMachine) flushICE(s *CallSession) {
	buffered := s.pendingICE
	s.pendingICE = nil
	for _, candidate := range buffered {
		if err := s.media.AddICECandidate(candidate); err != nil {
			m.failNegotiation(s, "add buffered candidate", err)
			return
		}
	}
}

func (m *CallMachine) armTimeout(s *CallSession) {
	callID := s.ID
	s.timeout = m.clock.AfterFunc(m.negotiationTimeout, func() {
		m.loop.Do(func() { m.negotiationTimedOut(callID) })
	})
}

func (m *CallMachine) negotiationTimedOut(callID string) {
	s := m.session
	if s == nil || s.ID != callID || s.State == CallActive || s.State == CallEnded {
		return
	}
	m.log.Warn().Str("call_id", callID).Msg("negotiation timed out")
	m.endSession(s, EndReasonTimeout, true)
}

func (m *CallMachine) failNegotiation(s *CallSession, op string, err error) {
	m.log.Error().Err(err).Str("call_id", s.ID).Str("op", op).Msg("negotiation error")
	m.endSession(s, EndReasonError, true)
}

// endSession releases the session's resources and reaches the terminal
// state. transmit controls whether the remote side is told.
func (m *CallMachine) endSession(s *CallSession, reason string, transmit bool) {
	if s.State == CallEnded {
		return
	}
	if s.timeout != nil {
		s.timeout.Stop()
	}
	if transmit {
		m.sendEnd(s.ID, reason)
	}
	if s.media != nil {
		if err := s.media.Close(); err != nil {
			m.log.Warn().Err(err).Str("call_id", s.ID).Msg("media close failed")
		}
	}
	s.State = CallEnded
	s.EndReason = reason
	s.EndedAt = m.clock.Now()
	if m.session == s {
		m.session = nil
	}
	m.log.Info().Str("call_id", s.ID).Str("reason", reason).Msg("call ended")
	m.publishCall(s)
}

func (m *CallMachine) sendEnd(callID, reason string) {
	ev := proto.MustNew(proto.KindCallEnd, proto.CallEnd{CallID: callID, Reason: reason})
	if err := m.send(ev); err != nil {
		// Best effort: the remote side has its own negotiation timeout.
		m.log.Debug().Err(err).Str("call_id", callID).Msg("end event not sent")
	}
}

func (m *CallMachine) info() CallInfo {
	s := m.session
	return CallInfo{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		LocalRole:      s.LocalRole,
		State:          s.State,
		EndReason:      s.EndReason,
	}
}

func (m *CallMachine) publishCall(s *CallSession) {
	m.publish(Change{
		Kind:           ChangeCall,
		ConversationID: s.ConversationID,
		Call: &CallInfo{
			ID:             s.ID,
			ConversationID: s.ConversationID,
			LocalRole:      s.LocalRole,
			State:          s.State,
			EndReason:      s.EndReason,
		},
	})
}
