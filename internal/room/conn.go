package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is one player's socket as the room sees it. Read blocks until a frame arrives, the
// context ends or the socket fails.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

const peerQueueSize = 64

// peer is one live connection of a player. A reconnect replaces it; the old one is shut down.
type peer struct {
	id     string
	conn   Conn
	send   chan []byte
	closed bool
	reason string

	pingFailures int
}

func newPeer(conn Conn) *peer {
	return &peer{id: uuid.NewString(), conn: conn, send: make(chan []byte, peerQueueSize)}
}

// enqueue must be called with the room lock held. A full queue means the client stopped
// reading; the peer is dropped and will resync from RemoteSessionSetup on reconnect.
func (p *peer) enqueue(frame []byte) bool {
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.shutdown("too slow")
		return false
	}
}

// shutdown must be called with the room lock held. The first reason given is the one the
// client sees in the close frame.
func (p *peer) shutdown(reason string) {
	if p.closed {
		return
	}
	p.closed = true
	p.reason = reason
	close(p.send)
}

// writeLoop drains the queue in order and closes the socket once the queue is closed.
func (p *peer) writeLoop(timeout time.Duration, reason func() string, log *zap.Logger) {
	for frame := range p.send {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := p.conn.Write(ctx, frame)
		cancel()
		if err != nil {
			log.Debug("room_write_error", zap.String("peer", p.id), zap.Error(err))
			break
		}
	}
	_ = p.conn.Close(reason())
	for range p.send {
	}
}
