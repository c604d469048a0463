package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func TestPipeDeliversInOrder(t *testing.T) {
	req := require.New(t)
	a, b := Pipe()
	ctx := context.Background()

	for _, kind := range []string{"one", "two", "three"} {
		req.NoError(a.Send(ctx, proto.Event{Kind: kind}))
	}
	for _, kind := range []string{"one", "two", "three"} {
		ev, err := b.Receive(ctx)
		req.NoError(err)
		req.Equal(kind, ev.Kind)
	}
}

func TestPipeCloseUnblocksBothSides(t *testing.T) {
	req := require.New(t)
	a, b := Pipe()
	ctx := context.Background()

	req.NoError(a.Send(ctx, proto.Event{Kind: "last"}))
	req.NoError(a.Close())

	// Buffered events still drain after close.
	ev, err := b.Receive(ctx)
	req.NoError(err)
	req.Equal("last", ev.Kind)

	_, err = b.Receive(ctx)
	req.ErrorIs(err, ErrClosed)
	req.ErrorIs(a.Send(ctx, proto.Event{Kind: "x"}), ErrClosed)
}
