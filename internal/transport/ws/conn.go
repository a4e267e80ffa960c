package ws

import (
	"context"

	"nhooyr.io/websocket"
)

// maxFrameBytes bounds one client frame. A ChangeBoard carrying a full tile map is the largest.
const maxFrameBytes = 1 << 16

// conn adapts a websocket to room.Conn. The room keeps exactly one reader and one writer on it,
// which is what nhooyr needs for Ping to see its pong.
type conn struct {
	c *websocket.Conn
}

func newConn(c *websocket.Conn) *conn {
	c.SetReadLimit(maxFrameBytes)
	return &conn{c: c}
}

func (w *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *conn) Write(ctx context.Context, frame []byte) error {
	return w.c.Write(ctx, websocket.MessageText, frame)
}

func (w *conn) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *conn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
