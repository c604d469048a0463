package core

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// sweepInterval is how often expired typing records are evicted.
const sweepInterval = time.Second

// PresenceTracker holds ephemeral per-user state: online/offline
// presence (last write wins, event arrival order) and self-expiring
// typing records. Nothing here is persisted or acknowledged; the whole
// store is best-effort and lossy by design.
//
// All mutation methods must run on the loop.
type PresenceTracker struct {
	notifier

	log   *zerolog.Logger
	clock clock.Clock
	ttl   time.Duration

	presence map[string]PresenceRecord
	typing   map[typingKey]TypingRecord
}

type typingKey struct {
	conversationID string
	userID         string
}

// NewPresenceTracker constructs a tracker. ttl is the lifetime of a
// typing record absent an explicit stop.
func NewPresenceTracker(logger *zerolog.Logger, clk clock.Clock, ttl time.Duration) *PresenceTracker {
	return &PresenceTracker{
		log:      logger,
		clock:    clk,
		ttl:      ttl,
		presence: make(map[string]PresenceRecord),
		typing:   make(map[typingKey]TypingRecord),
	}
}

// SetPresence overwrites a user's presence record unconditionally.
func (t *PresenceTracker) SetPresence(userID string, online bool, lastSeen time.Time) {
	if lastSeen.IsZero() {
		lastSeen = t.clock.Now()
	}
	rec := PresenceRecord{UserID: userID, Online: online, LastSeenAt: lastSeen}
	t.presence[userID] = rec
	t.publish(Change{Kind: ChangePresence, UserID: userID, Presence: &rec})
}

// StartTyping inserts or refreshes a typing record.
func (t *PresenceTracker) StartTyping(conversationID, userID string) {
	rec := TypingRecord{
		ConversationID: conversationID,
		UserID:         userID,
		ExpiresAt:      t.clock.Now().Add(t.ttl),
	}
	t.typing[typingKey{conversationID, userID}] = rec
	t.publish(Change{
		Kind:           ChangeTypingStarted,
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         &rec,
	})
}

// StopTyping removes a typing record on an explicit stop event.
func (t *PresenceTracker) StopTyping(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	rec, ok := t.typing[key]
	if !ok {
		return
	}
	delete(t.typing, key)
	t.publish(Change{
		Kind:           ChangeTypingStopped,
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         &rec,
	})
}

// Sweep evicts typing records whose ExpiresAt has passed and notifies
// subscribers of each removal.
func (t *PresenceTracker) Sweep() {
	now := t.clock.Now()
	for key, rec := range t.typing {
		if rec.ExpiresAt.After(now) {
			continue
		}
		delete(t.typing, key)
		t.log.Debug().
			Str("conversation_id", key.conversationID).
			Str("user_id", key.userID).
			Msg("typing record expired")
		expired := rec
		t.publish(Change{
			Kind:           ChangeTypingStopped,
			ConversationID: key.conversationID,
			UserID:         key.userID,
			Typing:         &expired,
		})
	}
}

// RunSweeper drives Sweep on the loop until the context is cancelled.
// The tracker itself never owns a goroutine touching its maps.
func (t *PresenceTracker) RunSweeper(ctx context.Context, loop *Loop) {
	ticker := t.clock.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loop.Do(t.Sweep)
		}
	}
}

// Presence returns the record for a user, if one was ever received.
func (t *PresenceTracker) Presence(userID string) (PresenceRecord, bool) {
	rec, ok := t.presence[userID]
	return rec, ok
}

// TypingIn lists users currently typing in a conversation.
func (t *PresenceTracker) TypingIn(conversationID string) []string {
	now := t.clock.Now()
	keys := lo.Keys(t.typing)
	typing := lo.FilterMap(keys, func(k typingKey, _ int) (string, bool) {
		if k.conversationID != conversationID {
			return "", false
		}
		if !t.typing[k].ExpiresAt.After(now) {
			return "", false
		}
		return k.userID, true
	})
	return typing
}
