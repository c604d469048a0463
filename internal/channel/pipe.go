package channel

import (
	"context"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Pipe returns two connected in-memory channels. Events sent on one side
// arrive on the other, in order. Used by tests and the loopback dev
// server.
func Pipe() (Channel, Channel) {
	ab := make(chan proto.Event, 64)
	ba := make(chan proto.Event, 64)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &pipeChannel{out: ab, in: ba, closed: closed, once: once}
	b := &pipeChannel{out: ba, in: ab, closed: closed, once: once}
	return a, b
}

type pipeChannel struct {
	out    chan proto.Event
	in     chan proto.Event
	closed chan struct{}
	once   *sync.Once
}

func (p *pipeChannel) Send(ctx context.Context, ev proto.Event) error {
	select {
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- ev:
		return nil
	}
}

func (p *pipeChannel) Receive(ctx context.Context) (proto.Event, error) {
	// Drain buffered events even when the peer closed after sending.
	select {
	case ev := <-p.in:
		return ev, nil
	default:
	}
	select {
	case <-p.closed:
		return proto.Event{}, ErrClosed
	case <-ctx.Done():
		return proto.Event{}, ctx.Err()
	case ev := <-p.in:
		return ev, nil
	}
}

func (p *pipeChannel) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
