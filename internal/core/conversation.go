package core

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ConversationStore is the canonical per-conversation ordered log of
// messages, merging optimistic and confirmed state. Confirmed messages
// are ordered by server-assigned sequence and never reordered; pending
// messages sort after the last confirmed sequence in submission order.
//
// All methods must run on the loop.
type ConversationStore struct {
	notifier

	log   *zerolog.Logger
	convs map[string]*conversation
	byID  map[string]*Message // server id index across conversations

	// onGap is invoked when a sequence gap is detected on confirmed
	// insert; the app wires it to a resync:request send.
	onGap func(conversationID string, sinceSequence int64)
}

type conversation struct {
	id        string
	confirmed []*Message // ordered by Sequence
	pending   []*Message // submission order, includes failed entries
	byID      map[string]*Message
	byTempID  map[string]*Message
}

// NewConversationStore constructs an empty store.
func NewConversationStore(logger *zerolog.Logger) *ConversationStore {
	return &ConversationStore{
		log:   logger,
		convs: make(map[string]*conversation),
		byID:  make(map[string]*Message),
	}
}

// OnGap registers the sequence-gap callback. Must be set before events
// flow.
func (s *ConversationStore) OnGap(fn func(conversationID string, sinceSequence int64)) {
	s.onGap = fn
}

func (s *ConversationStore) conv(id string) *conversation {
	c, ok := s.convs[id]
	if !ok {
		c = &conversation{
			id:       id,
			byID:     make(map[string]*Message),
			byTempID: make(map[string]*Message),
		}
		s.convs[id] = c
	}
	return c
}

// ApplyOptimistic inserts a pending message immediately, before any
// network round trip. Re-applying the same ClientTempID resets a failed
// entry back to pending (user retry); a live entry is left untouched so
// there is never more than one entry per temp id.
func (s *ConversationStore) ApplyOptimistic(m Message) {
	c := s.conv(m.ConversationID)

	if existing, ok := c.byTempID[m.ClientTempID]; ok {
		if existing.Status == StatusFailed {
			existing.Status = StatusPending
			existing.FailReason = ""
			s.publishMessage(existing)
		}
		return
	}

	m.Status = StatusPending
	msg := &m
	c.pending = append(c.pending, msg)
	c.byTempID[m.ClientTempID] = msg
	s.publishMessage(msg)
}

// ApplyAck resolves a pending entry with its server-assigned identity.
// A duplicate ack (temp id already resolved) is a no-op.
func (s *ConversationStore) ApplyAck(conversationID, clientTempID, id string, sequence int64) {
	c := s.conv(conversationID)

	msg, ok := c.byTempID[clientTempID]
	if !ok || msg.Confirmed() {
		s.log.Debug().Str("client_temp_id", clientTempID).Msg("stale ack ignored")
		return
	}
	if _, dup := c.byID[id]; dup {
		return
	}

	msg.ID = id
	msg.Sequence = sequence
	if msg.Status < StatusSent || msg.Status == StatusFailed {
		msg.Status = StatusSent
		msg.FailReason = ""
	}
	c.removePending(clientTempID)
	c.insertConfirmed(msg)
	c.byID[id] = msg
	s.byID[id] = msg
	s.publishMessage(msg)
}

// ApplyConfirmed inserts a server-confirmed message. The matching
// pending entry is resolved by ClientTempID when present; otherwise the
// message is inserted as new (other participants, or this account from
// another session). Duplicate delivery of the same server id is a no-op.
func (s *ConversationStore) ApplyConfirmed(m Message) {
	c := s.conv(m.ConversationID)

	if _, dup := c.byID[m.ID]; dup {
		return
	}

	if m.ClientTempID != "" {
		if pending, ok := c.byTempID[m.ClientTempID]; ok && !pending.Confirmed() {
			s.ApplyAck(m.ConversationID, m.ClientTempID, m.ID, m.Sequence)
			return
		}
	}

	if s.onGap != nil {
		if last := c.lastSequence(); last > 0 && m.Sequence > last+1 {
			s.log.Info().
				Str("conversation_id", m.ConversationID).
				Int64("have", last).
				Int64("got", m.Sequence).
				Msg("sequence gap detected")
			s.onGap(m.ConversationID, last)
		}
	}

	if m.Status < StatusSent {
		m.Status = StatusSent
	}
	msg := &m
	c.insertConfirmed(msg)
	c.byID[m.ID] = msg
	s.byID[m.ID] = msg
	if m.ClientTempID != "" {
		c.byTempID[m.ClientTempID] = msg
	}
	s.publishMessage(msg)
}

// ApplyStatus advances a confirmed message's status. Regressions and
// unknown ids are ignored; neither is an error.
func (s *ConversationStore) ApplyStatus(id, status string) {
	next, ok := ParseStatus(status)
	if !ok || next == StatusFailed || next == StatusPending {
		s.log.Warn().Str("status", status).Msg("unroutable status value dropped")
		return
	}

	msg, ok := s.byID[id]
	if !ok {
		s.log.Debug().Str("id", id).Msg("status for untracked message ignored")
		return
	}
	if next <= msg.Status {
		return
	}
	msg.Status = next
	s.publishMessage(msg)
}

// MarkFailed flags a still-pending entry as failed so the UI can offer a
// retry. Confirmed entries are left alone.
func (s *ConversationStore) MarkFailed(conversationID, clientTempID, reason string) {
	c := s.conv(conversationID)
	msg, ok := c.byTempID[clientTempID]
	if !ok || msg.Confirmed() {
		return
	}
	msg.Status = StatusFailed
	msg.FailReason = reason
	s.publishMessage(msg)
}

// ApplyResync merges a batch of confirmed messages fetched after a gap
// or reconnect. Deduplication by server id makes replay idempotent: the
// resulting state matches one that never missed an event.
func (s *ConversationStore) ApplyResync(messages []Message) {
	for _, m := range messages {
		s.ApplyConfirmed(m)
	}
}

// Messages returns a snapshot of the conversation log: confirmed
// messages in sequence order followed by pending ones in submission
// order.
func (s *ConversationStore) Messages(conversationID string) []Message {
	c, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	all := append(append([]*Message{}, c.confirmed...), c.pending...)
	return lo.Map(all, func(m *Message, _ int) Message { return *m })
}

// LastSequences reports the highest confirmed sequence per conversation,
// used to drive resync requests after reconnect.
func (s *ConversationStore) LastSequences() map[string]int64 {
	return lo.MapValues(s.convs, func(c *conversation, _ string) int64 {
		return c.lastSequence()
	})
}

// Failed returns the failed entry for a temp id, if any. Used by the
// retry affordance.
func (s *ConversationStore) Failed(conversationID, clientTempID string) (Message, bool) {
	c, ok := s.convs[conversationID]
	if !ok {
		return Message{}, false
	}
	msg, ok := c.byTempID[clientTempID]
	if !ok || msg.Status != StatusFailed {
		return Message{}, false
	}
	return *msg, true
}

func (s *ConversationStore) publishMessage(m *Message) {
	snapshot := *m
	s.publish(Change{
		Kind:           ChangeMessage,
		ConversationID: m.ConversationID,
		Message:        &snapshot,
	})
}

func (c *conversation) lastSequence() int64 {
	if len(c.confirmed) == 0 {
		return 0
	}
	return c.confirmed[len(c.confirmed)-1].Sequence
}

func (c *conversation) insertConfirmed(m *Message) {
	i := sort.Search(len(c.confirmed), func(i int) bool {
		return c.confirmed[i].Sequence >= m.Sequence
	})
	c.confirmed = append(c.confirmed, nil)
	copy(c.confirmed[i+1:], c.confirmed[i:])
	c.confirmed[i] = m
}

func (c *conversation) removePending(clientTempID string) {
	for i, m := range c.pending {
		if m.ClientTempID == clientTempID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
