package realtime

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Conn is one live device of a user. The transport drains Outbox and writes to the socket.
type Conn struct {
	ID     string
	UserID string

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool

	send chan []byte
	done chan struct{}
}

func newConn(id, userId string, buffer int) *Conn {
	return &Conn{
		ID:       id,
		UserID:   userId,
		channels: make(map[string]struct{}),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// Done is closed once the connection is unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Keys(c.channels)
}

func (c *Conn) InChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// deliver never blocks: a full buffer drops the packet.
func (c *Conn) deliver(packet []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- packet:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Reply enqueues a direct answer to this connection, waiting for buffer space until ctx ends.
func (c *Conn) Reply(ctx context.Context, packet []byte) error {
	select {
	case c.send <- packet:
		return nil
	case <-c.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}
