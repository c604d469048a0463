package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestPresenceLastWriteWins(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	tracker := NewPresenceTracker(testLogger(), mock, 5*time.Second)

	tracker.SetPresence("bob", true, time.Time{})
	tracker.SetPresence("bob", false, time.Time{})

	rec, ok := tracker.Presence("bob")
	req.True(ok)
	req.False(rec.Online)

	_, ok = tracker.Presence("ghost")
	req.False(ok)
}

func TestTypingExpiresViaSweep(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	tracker := NewPresenceTracker(testLogger(), mock, 5*time.Second)
	feed := tracker.Subscribe()

	tracker.StartTyping("c1", "bob")
	req.Equal([]string{"bob"}, tracker.TypingIn("c1"))
	mustChange(t, feed, ChangeTypingStarted)

	// A refresh extends the deadline.
	mock.Add(3 * time.Second)
	tracker.StartTyping("c1", "bob")
	mock.Add(3 * time.Second)
	tracker.Sweep()
	req.Equal([]string{"bob"}, tracker.TypingIn("c1"))

	mock.Add(3 * time.Second)
	tracker.Sweep()
	req.Empty(tracker.TypingIn("c1"))

	c := mustChange(t, feed, ChangeTypingStopped)
	req.Equal("bob", c.UserID)
	req.Equal("c1", c.ConversationID)
}

func TestExplicitStopBeatsExpiry(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	tracker := NewPresenceTracker(testLogger(), mock, 5*time.Second)
	feed := tracker.Subscribe()

	tracker.StartTyping("c1", "bob")
	tracker.StopTyping("c1", "bob")
	req.Empty(tracker.TypingIn("c1"))
	mustChange(t, feed, ChangeTypingStopped)

	// Stop for an unknown record is a no-op.
	tracker.StopTyping("c1", "ghost")
}
