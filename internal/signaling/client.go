package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers with many
	// candidates fit comfortably.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one persistent connection. Its ID is the connection identity
// used for membership and signaling addressing.
type Client struct {
	ID       string
	RemoteIP string
	Conn     *websocket.Conn

	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
	gone     sync.Once
}

// NewClient wraps conn with a fresh identity. conn may be nil for
// in-process clients.
func NewClient(conn *websocket.Conn, remoteIP string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		RemoteIP: remoteIP,
		Conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Send returns the outbound queue. Only the write pump (or a test) reads it.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Done is closed once the client is shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// enqueue never blocks: a closed or saturated client loses the message.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
