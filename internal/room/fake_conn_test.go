package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keizars/keizar-go/internal/protocol"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed with send are read by the room; frames the
// room writes land in out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	reason  string
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 256), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close(reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) failPings(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, r protocol.Request) {
	t.Helper()
	b, err := protocol.EncodeRequest(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- b
}

// next waits for the first written frame that matches.
func (c *fakeConn) next(t *testing.T, match func(protocol.Respond) bool) protocol.Respond {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-c.out:
			msg, err := protocol.DecodeRespond(b)
			if err != nil {
				t.Fatalf("room wrote an undecodable frame %s: %v", b, err)
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame")
			return nil
		}
	}
}

func isMove(m protocol.Respond) bool {
	_, ok := m.(protocol.Move)
	return ok
}

func isRoomState(st protocol.RoomState) func(protocol.Respond) bool {
	return func(m protocol.Respond) bool {
		rs, ok := m.(protocol.RoomStateChange)
		return ok && rs.NewState == st
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
