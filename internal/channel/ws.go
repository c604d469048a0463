package channel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// WSDialer dials a wirechat server over WebSocket and performs the hello
// exchange before handing the channel to the caller.
type WSDialer struct {
	URL string
}

// Dial connects, sends the hello envelope with the session token, and
// returns the established channel.
func (d *WSDialer) Dial(ctx context.Context, token string) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	ch := &wsChannel{conn: conn}
	hello := proto.MustNew(proto.KindHello, proto.Hello{
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	if err := ch.Send(ctx, hello); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return ch, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Send(ctx context.Context, ev proto.Event) error {
	if err := wsjson.Write(ctx, c.conn, ev); err != nil {
		return fmt.Errorf("ws send: %w", normalizeClose(err))
	}
	return nil
}

func (c *wsChannel) Receive(ctx context.Context) (proto.Event, error) {
	var ev proto.Event
	if err := wsjson.Read(ctx, c.conn, &ev); err != nil {
		return proto.Event{}, normalizeClose(err)
	}
	return ev, nil
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// normalizeClose maps orderly WebSocket shutdowns onto ErrClosed so the
// reconnect path does not treat them as transport faults.
func normalizeClose(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrClosed
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ErrClosed
	}
	return err
}
