// Package channel defines the bidirectional event channel the client
// core speaks over, and its concrete transports. The core never touches
// a socket directly; it sends and receives proto.Event values through
// this interface.
package channel

import (
	"context"
	"errors"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("channel closed")

// Channel is one established bidirectional event stream. Receive returns
// events in the order the remote side sent them; that in-order contract
// is what per-call-session event ordering rests on.
type Channel interface {
	Send(ctx context.Context, ev proto.Event) error
	Receive(ctx context.Context) (proto.Event, error)
	Close() error
}

// Dialer establishes a fresh Channel. The connection manager redials
// through this on every reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, token string) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, token string) (Channel, error) {
	return f(ctx, token)
}
