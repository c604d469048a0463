package conn

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/channel"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// newTestManager uses the real clock with millisecond backoff so redials
// happen promptly without mock-clock coordination.
func newTestManager(dialer channel.Dialer) *Manager {
	return New(testLogger(), dialer, auth.Static("test-token"), clock.New(),
		Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond})
}

func waitStatus(t *testing.T, ch <-chan Status, want Status) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %v never observed", want)
		}
	}
}

func TestManagerConnectsAndEmitsResync(t *testing.T) {
	req := require.New(t)

	serverSide := make(chan channel.Channel, 1)
	dialer := channel.DialerFunc(func(ctx context.Context, token string) (channel.Channel, error) {
		req.Equal("test-token", token)
		client, server := channel.Pipe()
		serverSide <- server
		return client, nil
	})

	m := newTestManager(dialer)
	status := m.SubscribeStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitStatus(t, status, StatusConnected)
	select {
	case <-m.Resync():
	case <-time.After(2 * time.Second):
		t.Fatal("no resync signal after connect")
	}

	// Inbound events flow in order.
	server := <-serverSide
	req.NoError(server.Send(ctx, proto.Event{Kind: "a"}))
	req.NoError(server.Send(ctx, proto.Event{Kind: "b"}))
	req.Equal("a", (<-m.Events()).Kind)
	req.Equal("b", (<-m.Events()).Kind)

	// Outbound path reaches the server side.
	req.NoError(m.Send(ctx, proto.Event{Kind: "c"}))
	ev, err := server.Receive(ctx)
	req.NoError(err)
	req.Equal("c", ev.Kind)
}

func TestManagerRetriesUntilDialSucceeds(t *testing.T) {
	req := require.New(t)

	var attempts atomic.Int32
	serverSide := make(chan channel.Channel, 1)
	dialer := channel.DialerFunc(func(ctx context.Context, token string) (channel.Channel, error) {
		if attempts.Add(1) < 4 {
			return nil, errors.New("connection refused")
		}
		client, server := channel.Pipe()
		serverSide <- server
		return client, nil
	})

	m := newTestManager(dialer)
	status := m.SubscribeStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitStatus(t, status, StatusConnected)
	req.GreaterOrEqual(attempts.Load(), int32(4))
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	req := require.New(t)

	serverSide := make(chan channel.Channel, 2)
	dialer := channel.DialerFunc(func(ctx context.Context, token string) (channel.Channel, error) {
		client, server := channel.Pipe()
		serverSide <- server
		return client, nil
	})

	m := newTestManager(dialer)
	status := m.SubscribeStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitStatus(t, status, StatusConnected)
	<-m.Resync()

	// Kill the first link; the manager must dial again and resignal.
	first := <-serverSide
	req.NoError(first.Close())

	waitStatus(t, status, StatusConnected)
	select {
	case <-m.Resync():
	case <-time.After(2 * time.Second):
		t.Fatal("no resync signal after reconnect")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	req := require.New(t)

	dialer := channel.DialerFunc(func(ctx context.Context, token string) (channel.Channel, error) {
		return nil, errors.New("connection refused")
	})
	m := newTestManager(dialer)

	err := m.Send(context.Background(), proto.Event{Kind: "x"})
	req.ErrorIs(err, ErrNotConnected)
}
