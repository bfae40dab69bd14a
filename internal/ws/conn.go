package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendQueue  = 64
)

// Conn is one registered client connection. Writes go through a
// buffered queue drained by a single writer goroutine, so fan-out
// callers never block on a slow socket.
type Conn struct {
	ID       string
	UserID   int64
	TenantID int64

	sock      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, userID, tenantID int64, sock *websocket.Conn) *Conn {
	return &Conn{
		ID:       id,
		UserID:   userID,
		TenantID: tenantID,
		sock:     sock,
		send:     make(chan []byte, sendQueue),
		done:     make(chan struct{}),
	}
}

// enqueue queues a payload for delivery. The push is best-effort: a
// full queue drops the payload and closes the connection, and the
// client reconnects and resyncs.
func (c *Conn) enqueue(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.close()
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}
