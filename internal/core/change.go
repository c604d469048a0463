package core

import "sync"

// ChangeKind classifies store change notifications.
type ChangeKind int

const (
	// ChangeMessage fires when a message is inserted or updated.
	ChangeMessage ChangeKind = iota
	// ChangePresence fires when a user's presence record is overwritten.
	ChangePresence
	// ChangeTypingStarted fires when a typing record is inserted or refreshed.
	ChangeTypingStarted
	// ChangeTypingStopped fires when a typing record expires or is stopped.
	ChangeTypingStopped
	// ChangeCall fires on every call session state transition.
	ChangeCall
)

// Change is delivered to subscribers when a store mutates. Exactly one
// of the pointer fields is set, matching Kind.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	UserID         string
	Message        *Message
	Presence       *PresenceRecord
	Typing         *TypingRecord
	Call           *CallInfo
}

// notifier fans a store's changes out to subscribers. Slow consumers are
// dropped rather than blocking the loop; presentation layers treat the
// feed as a hint and re-read snapshots.
type notifier struct {
	mu   sync.Mutex
	subs []chan Change
}

// Subscribe returns a buffered change feed. Safe to call from any
// goroutine; the mutex guards the subscriber list only, store state is
// still mutated exclusively on the loop.
func (n *notifier) Subscribe() <-chan Change {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Change, 32)
	n.subs = append(n.subs, ch)
	return ch
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		select {
		case sub <- c:
		default:
			// Drop if slow consumer.
		}
	}
}
