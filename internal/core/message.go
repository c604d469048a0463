package core

import "time"

// MessageStatus tracks delivery progress of a message. Statuses only
// advance in declaration order; StatusFailed is terminal and reachable
// only from StatusPending.
type MessageStatus int

const (
	StatusPending MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus maps a wire status string to a MessageStatus.
func ParseStatus(s string) (MessageStatus, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read":
		return StatusRead, true
	case "failed":
		return StatusFailed, true
	default:
		return 0, false
	}
}

// Message is the domain model for a chat message. ID and Sequence are
// server-assigned and empty/zero until the send is acknowledged;
// ClientTempID is generated locally and stays stable across retries.
type Message struct {
	ID             string
	ClientTempID   string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
	Sequence       int64
	Status         MessageStatus
	FailReason     string
}

// Confirmed reports whether the server has assigned identity to this
// message.
func (m *Message) Confirmed() bool {
	return m.ID != ""
}

// PresenceRecord is ephemeral per-user online state. Last write wins in
// event arrival order; nothing is persisted.
type PresenceRecord struct {
	UserID     string
	Online     bool
	LastSeenAt time.Time
}

// TypingRecord marks a user as typing in a conversation until ExpiresAt
// or an explicit stop event, whichever comes first.
type TypingRecord struct {
	ConversationID string
	UserID         string
	ExpiresAt      time.Time
}
