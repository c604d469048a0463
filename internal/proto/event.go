package proto

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ProtocolVersion is bumped on incompatible wire changes.
const ProtocolVersion = 1

// Event kinds exchanged over the channel. The kind string selects the
// payload struct below.
const (
	KindHello = "hello"

	KindMessageSend    = "message:send"
	KindMessageAck     = "message:ack"
	KindMessageReject  = "message:reject"
	KindMessageReceive = "message:receive"
	KindMessageStatus  = "message:status"

	KindTypingStart = "typing:start"
	KindTypingStop  = "typing:stop"

	KindPresenceUpdate = "presence:update"

	KindCallOffer     = "call:offer"
	KindCallAnswer    = "call:answer"
	KindCallICE       = "call:ice-candidate"
	KindCallEnd       = "call:end"

	KindResyncRequest  = "resync:request"
	KindResyncResponse = "resync:response"
)

// Event is the envelope for everything crossing the channel, in either
// direction.
type Event struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New wraps a payload into an Event envelope.
func New(kind string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Data: data}, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(kind string, payload any) Event {
	ev, err := New(kind, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the envelope payload into dst.
func Decode(ev Event, dst any) error {
	if err := json.Unmarshal(ev.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Kind, err)
	}
	return nil
}

// Hello introduces the client after connecting.
type Hello struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol"`
}

// MessageSend is a locally-originated message on its way to the server.
type MessageSend struct {
	ClientTempID   string `json:"client_temp_id"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

// MessageAck confirms a MessageSend and carries the server-assigned
// identity and ordering.
type MessageAck struct {
	ClientTempID string `json:"client_temp_id"`
	ID           string `json:"id"`
	Sequence     int64  `json:"sequence"`
}

// MessageReject declines a MessageSend.
type MessageReject struct {
	ClientTempID string `json:"client_temp_id"`
	Reason       string `json:"reason"`
}

// MessageReceive is a confirmed message, originated by any participant.
// ClientTempID is set only when the message originated from this client,
// letting the store resolve the optimistic entry.
type MessageReceive struct {
	ID             string `json:"id"`
	ClientTempID   string `json:"client_temp_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Sequence       int64  `json:"sequence"`
	CreatedAt      int64  `json:"created_at"` // unix millis
}

// MessageStatus advances a message's delivery status.
type MessageStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Typing marks a user as typing (or stopped) in a conversation.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// PresenceUpdate reports a user going online or offline.
type PresenceUpdate struct {
	UserID     string `json:"user_id"`
	State      string `json:"state"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"` // unix millis
}

// CallOffer starts call negotiation.
type CallOffer struct {
	CallID         string                    `json:"call_id"`
	ConversationID string                    `json:"conversation_id"`
	Description    webrtc.SessionDescription `json:"description"`
}

// CallAnswer responds to a CallOffer.
type CallAnswer struct {
	CallID      string                    `json:"call_id"`
	Description webrtc.SessionDescription `json:"description"`
}

// CallICE carries one ICE candidate for an in-flight negotiation.
type CallICE struct {
	CallID    string                  `json:"call_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CallEnd terminates a call from either side.
type CallEnd struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

// ResyncRequest asks the server for messages missed while disconnected.
type ResyncRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	SinceSequence  int64  `json:"since_sequence"`
}

// ResyncResponse replays confirmed history after a gap.
type ResyncResponse struct {
	Messages []MessageReceive `json:"messages"`
}
