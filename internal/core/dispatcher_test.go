package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func newTestDispatcher(t *testing.T, rec *sendRecorder) (*Dispatcher, *ConversationStore, *PresenceTracker, *Loop) {
	t.Helper()

	loop := newTestLoop(t)
	mock := clock.NewMock()
	conversations := NewConversationStore(testLogger())
	presence := NewPresenceTracker(testLogger(), mock, 5*time.Second)
	outbox := NewOutbox(testLogger(), loop, mock, nil, rec.send, 5, 20*time.Second)
	outbox.OnAck(conversations.ApplyAck)
	outbox.OnFailed(conversations.MarkFailed)
	machine := NewCallMachine(testLogger(), loop, mock, rec.send,
		func(string) (Media, error) { return &fakeMedia{}, nil },
		30*time.Second)
	dispatcher := NewDispatcher(testLogger(), conversations, outbox, presence, machine)
	return dispatcher, conversations, presence, loop
}

func TestRouteMessageFlow(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	dispatcher, conversations, _, loop := newTestDispatcher(t, rec)

	loop.DoWait(func() {
		dispatcher.Route(proto.MustNew(proto.KindMessageReceive, proto.MessageReceive{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "bob",
			Body:           "hello",
			Sequence:       1,
			CreatedAt:      time.Now().UnixMilli(),
		}))
		dispatcher.Route(proto.MustNew(proto.KindMessageStatus, proto.MessageStatus{
			ID:     "m1",
			Status: "read",
		}))

		messages := conversations.Messages("c1")
		req.Len(messages, 1)
		req.Equal(StatusRead, messages[0].Status)
	})
}

func TestRouteResyncResponse(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	dispatcher, conversations, _, loop := newTestDispatcher(t, rec)

	loop.DoWait(func() {
		dispatcher.Route(proto.MustNew(proto.KindResyncResponse, proto.ResyncResponse{
			Messages: []proto.MessageReceive{
				{ID: "m1", ConversationID: "c1", Sequence: 1, Body: "one"},
				{ID: "m2", ConversationID: "c1", Sequence: 2, Body: "two"},
				{ID: "m1", ConversationID: "c1", Sequence: 1, Body: "one"}, // duplicate
			},
		}))
		req.Len(conversations.Messages("c1"), 2)
	})
}

func TestRoutePresenceAndTyping(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	dispatcher, _, presence, loop := newTestDispatcher(t, rec)

	loop.DoWait(func() {
		dispatcher.Route(proto.MustNew(proto.KindPresenceUpdate, proto.PresenceUpdate{
			UserID: "bob",
			State:  "online",
		}))
		dispatcher.Route(proto.MustNew(proto.KindTypingStart, proto.Typing{
			ConversationID: "c1",
			UserID:         "bob",
		}))

		record, ok := presence.Presence("bob")
		req.True(ok)
		req.True(record.Online)
		req.Equal([]string{"bob"}, presence.TypingIn("c1"))

		dispatcher.Route(proto.MustNew(proto.KindTypingStop, proto.Typing{
			ConversationID: "c1",
			UserID:         "bob",
		}))
		req.Empty(presence.TypingIn("c1"))
	})
}

func TestRouteUnknownKindDropped(t *testing.T) {
	rec := &sendRecorder{}
	dispatcher, _, _, loop := newTestDispatcher(t, rec)

	loop.DoWait(func() {
		dispatcher.Route(proto.Event{Kind: "future:shiny", Data: json.RawMessage(`{"x":1}`)})
		dispatcher.Route(proto.Event{Kind: proto.KindMessageReceive, Data: json.RawMessage(`not json`)})
	})
}
