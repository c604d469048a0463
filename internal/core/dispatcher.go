package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Dispatcher routes each inbound channel event to exactly one store's
// apply method. Unknown kinds are logged and dropped, never propagated
// as store mutations. Route must run on the loop; the inbound pump posts
// events one at a time, so the channel's arrival order is preserved per
// aggregate.
type Dispatcher struct {
	log           *zerolog.Logger
	conversations *ConversationStore
	outbox        *Outbox
	presence      *PresenceTracker
	calls         *CallMachine
}

// NewDispatcher wires the dispatcher to its stores.
func NewDispatcher(logger *zerolog.Logger, conversations *ConversationStore, outbox *Outbox, presence *PresenceTracker, calls *CallMachine) *Dispatcher {
	return &Dispatcher{
		log:           logger,
		conversations: conversations,
		outbox:        outbox,
		presence:      presence,
		calls:         calls,
	}
}

// Route maps one inbound event onto a store mutation.
func (d *Dispatcher) Route(ev proto.Event) {
	switch ev.Kind {
	case proto.KindMessageReceive:
		var p proto.MessageReceive
		if !d.decode(ev, &p) {
			return
		}
		d.conversations.ApplyConfirmed(Message{
			ID:             p.ID,
			ClientTempID:   p.ClientTempID,
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			Body:           p.Body,
			Sequence:       p.Sequence,
			CreatedAt:      time.UnixMilli(p.CreatedAt),
			Status:         StatusSent,
		})

	case proto.KindMessageAck:
		var p proto.MessageAck
		if !d.decode(ev, &p) {
			return
		}
		d.outbox.Ack(p.ClientTempID, p.ID, p.Sequence)

	case proto.KindMessageReject:
		var p proto.MessageReject
		if !d.decode(ev, &p) {
			return
		}
		d.outbox.Reject(p.ClientTempID, p.Reason)

	case proto.KindMessageStatus:
		var p proto.MessageStatus
		if !d.decode(ev, &p) {
			return
		}
		d.conversations.ApplyStatus(p.ID, p.Status)

	case proto.KindTypingStart:
		var p proto.Typing
		if !d.decode(ev, &p) {
			return
		}
		d.presence.StartTyping(p.ConversationID, p.UserID)

	case proto.KindTypingStop:
		var p proto.Typing
		if !d.decode(ev, &p) {
			return
		}
		d.presence.StopTyping(p.ConversationID, p.UserID)

	case proto.KindPresenceUpdate:
		var p proto.PresenceUpdate
		if !d.decode(ev, &p) {
			return
		}
		var lastSeen time.Time
		if p.LastSeenAt != 0 {
			lastSeen = time.UnixMilli(p.LastSeenAt)
		}
		d.presence.SetPresence(p.UserID, p.State == "online", lastSeen)

	case proto.KindCallOffer:
		var p proto.CallOffer
		if !d.decode(ev, &p) {
			return
		}
		d.calls.ReceiveOffer(p)

	case proto.KindCallAnswer:
		var p proto.CallAnswer
		if !d.decode(ev, &p) {
			return
		}
		d.calls.ReceiveAnswer(p)

	case proto.KindCallICE:
		var p proto.CallICE
		if !d.decode(ev, &p) {
			return
		}
		d.calls.ReceiveICECandidate(p)

	case proto.KindCallEnd:
		var p proto.CallEnd
		if !d.decode(ev, &p) {
			return
		}
		d.calls.ReceiveEnd(p)

	case proto.KindResyncResponse:
		var p proto.ResyncResponse
		if !d.decode(ev, &p) {
			return
		}
		messages := make([]Message, 0, len(p.Messages))
		for _, m := range p.Messages {
			messages = append(messages, Message{
				ID:             m.ID,
				ClientTempID:   m.ClientTempID,
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
				Body:           m.Body,
				Sequence:       m.Sequence,
				CreatedAt:      time.UnixMilli(m.CreatedAt),
				Status:         StatusSent,
			})
		}
		d.conversations.ApplyResync(messages)

	default:
		// Forward compatibility: newer servers may emit kinds this build
		// does not know.
		d.log.Warn().Str("kind", ev.Kind).Msg("unknown event kind dropped")
	}
}

func (d *Dispatcher) decode(ev proto.Event, dst any) bool {
	if err := proto.Decode(ev, dst); err != nil {
		d.log.Warn().Err(err).Str("kind", ev.Kind).Msg("malformed event dropped")
		return false
	}
	return true
}
