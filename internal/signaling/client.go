package signaling

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one live WebSocket connection. Outbound frames go through out so
// delivery never blocks the router; done tears down the write pump.
type client struct {
	id   string
	conn *websocket.Conn

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, queueSize int) *client {
	return &client{
		id:   id,
		conn: conn,
		out:  make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// close signals the write pump to stop and closes the underlying connection.
// Safe to call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
