package core

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Action is a locally-originated intent waiting for server
// acknowledgment. Event is the prebuilt wire envelope resent verbatim on
// every attempt.
type Action struct {
	ClientTempID   string
	ConversationID string
	Event          proto.Event
	EnqueuedAt     time.Time
}

// Journal persists un-acknowledged actions across process restarts.
// Durable-enough: a best-effort write on enqueue, removed on ack or
// failure.
type Journal interface {
	Append(a Action) error
	Remove(clientTempID string) error
	Load() ([]Action, error)
	Close() error
}

// NopJournal discards everything. Used when persistence is not wanted
// (tests, ephemeral sessions).
type NopJournal struct{}

func (NopJournal) Append(Action) error     { return nil }
func (NopJournal) Remove(string) error     { return nil }
func (NopJournal) Load() ([]Action, error) { return nil, nil }
func (NopJournal) Close() error            { return nil }

// SendFunc pushes an event toward the server. A non-nil error means the
// send did not happen now; the entry stays queued for the next flush.
type SendFunc func(ev proto.Event) error

// Outbox queues locally-originated actions until the server acknowledges
// them. Entries are retried in original submission order on every flush,
// and marked failed after a bounded number of same-session attempts or
// an ack timeout. All methods must run on the loop.
type Outbox struct {
	log     *zerolog.Logger
	loop    *Loop
	clock   clock.Clock
	journal Journal
	send    SendFunc

	maxAttempts int
	ackTimeout  time.Duration

	entries map[string]*outboxEntry
	order   []string

	// Callbacks mark the logical owner of an action; the app wires them
	// to the conversation store.
	onAck    func(conversationID, clientTempID, id string, sequence int64)
	onFailed func(conversationID, clientTempID, reason string)
}

type outboxEntry struct {
	action   Action
	attempts int
	timer    *clock.Timer
}

// NewOutbox constructs an outbox. maxAttempts and ackTimeout bound how
// long an entry may stay un-acknowledged within one session.
func NewOutbox(logger *zerolog.Logger, loop *Loop, clk clock.Clock, journal Journal, send SendFunc, maxAttempts int, ackTimeout time.Duration) *Outbox {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Outbox{
		log:         logger,
		loop:        loop,
		clock:       clk,
		journal:     journal,
		send:        send,
		maxAttempts: maxAttempts,
		ackTimeout:  ackTimeout,
		entries:     make(map[string]*outboxEntry),
	}
}

// OnAck registers the acknowledgment callback.
func (o *Outbox) OnAck(fn func(conversationID, clientTempID, id string, sequence int64)) {
	o.onAck = fn
}

// OnFailed registers the failure callback.
func (o *Outbox) OnFailed(fn func(conversationID, clientTempID, reason string)) {
	o.onFailed = fn
}

// LoadJournal repopulates pending entries persisted by a previous
// session. They are sent on the first flush after connect.
func (o *Outbox) LoadJournal() error {
	actions, err := o.journal.Load()
	if err != nil {
		return err
	}
	for _, a := range actions {
		if _, dup := o.entries[a.ClientTempID]; dup {
			continue
		}
		o.track(a)
	}
	if len(actions) > 0 {
		o.log.Info().Int("count", len(actions)).Msg("outbox journal loaded")
	}
	return nil
}

// Enqueue appends an action and attempts an immediate send. Re-enqueue
// of a temp id already in flight is a no-op, so a duplicate user intent
// cannot produce a second wire send.
func (o *Outbox) Enqueue(a Action) {
	if _, dup := o.entries[a.ClientTempID]; dup {
		return
	}
	if err := o.journal.Append(a); err != nil {
		o.log.Warn().Err(err).Str("client_temp_id", a.ClientTempID).Msg("journal append failed")
	}
	e := o.track(a)
	o.attempt(e)
}

func (o *Outbox) track(a Action) *outboxEntry {
	e := &outboxEntry{action: a}
	tempID := a.ClientTempID
	e.timer = o.clock.AfterFunc(o.ackTimeout, func() {
		o.loop.Do(func() { o.timedOut(tempID) })
	})
	o.entries[tempID] = e
	o.order = append(o.order, tempID)
	return e
}

// Ack resolves an in-flight entry. The ack payload carries no
// conversation id; the tracked entry does. Duplicate or unknown acks are
// ignored silently: the action was already applied.
func (o *Outbox) Ack(clientTempID, id string, sequence int64) {
	e, ok := o.entries[clientTempID]
	if !ok {
		o.log.Debug().Str("client_temp_id", clientTempID).Msg("ack for untracked action ignored")
		return
	}
	o.forget(e)
	if o.onAck != nil {
		o.onAck(e.action.ConversationID, clientTempID, id, sequence)
	}
}

// Reject drops an in-flight entry the server explicitly declined and
// surfaces the failure.
func (o *Outbox) Reject(clientTempID, reason string) {
	e, ok := o.entries[clientTempID]
	if !ok {
		o.log.Debug().Str("client_temp_id", clientTempID).Msg("reject for untracked action ignored")
		return
	}
	o.fail(e, reason)
}

// Flush resends every un-acknowledged entry in original submission
// order. Called after every reconnect.
func (o *Outbox) Flush() {
	for _, tempID := range append([]string{}, o.order...) {
		e, ok := o.entries[tempID]
		if !ok {
			continue
		}
		o.attempt(e)
	}
}

// DiscardConversation drops local bookkeeping for a conversation being
// torn down. Requests already on the wire are not aborted.
func (o *Outbox) DiscardConversation(conversationID string) {
	for _, tempID := range append([]string{}, o.order...) {
		e, ok := o.entries[tempID]
		if !ok || e.action.ConversationID != conversationID {
			continue
		}
		o.forget(e)
	}
}

// Pending returns the number of un-acknowledged entries.
func (o *Outbox) Pending() int {
	return len(o.entries)
}

func (o *Outbox) attempt(e *outboxEntry) {
	if e.attempts >= o.maxAttempts {
		o.fail(e, "retry budget exhausted")
		return
	}
	e.attempts++
	if err := o.send(e.action.Event); err != nil {
		// Transient: entry stays queued for the next flush.
		o.log.Debug().Err(err).
			Str("client_temp_id", e.action.ClientTempID).
			Int("attempts", e.attempts).
			Msg("outbox send deferred")
	}
}

func (o *Outbox) timedOut(clientTempID string) {
	e, ok := o.entries[clientTempID]
	if !ok {
		return
	}
	o.fail(e, "no acknowledgment before timeout")
}

func (o *Outbox) fail(e *outboxEntry, reason string) {
	o.forget(e)
	o.log.Warn().
		Str("client_temp_id", e.action.ClientTempID).
		Str("reason", reason).
		Msg("outbox action failed")
	if o.onFailed != nil {
		o.onFailed(e.action.ConversationID, e.action.ClientTempID, reason)
	}
}

// forget removes an entry from the in-flight set and the journal, so a
// restart cannot resurrect it.
func (o *Outbox) forget(e *outboxEntry) {
	e.timer.Stop()
	delete(o.entries, e.action.ClientTempID)
	for i, id := range o.order {
		if id == e.action.ClientTempID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	if err := o.journal.Remove(e.action.ClientTempID); err != nil {
		o.log.Warn().Err(err).Str("client_temp_id", e.action.ClientTempID).Msg("journal remove failed")
	}
}
