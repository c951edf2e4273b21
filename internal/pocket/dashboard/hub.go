package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// clientQueueSize is the number of frames buffered per client. A client
	// that falls further behind is disconnected.
	clientQueueSize = 64

	writeTimeout = 5 * time.Second
)

// client is one WebSocket subscriber with its own ordered send queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// client's queue is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}

// hub fans frames out to the connected clients.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

// remove drops c and closes its connection. Removing twice is a no-op.
func (h *hub) remove(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close(code, reason)
	if ok {
		h.logger.Printf("Client disconnected (total: %d)", n)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish queues frame for every client; clients whose queue is full are
// dropped.
func (h *hub) publish(frame []byte) {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Println("Warning: client too slow, disconnecting")
		h.remove(c, websocket.StatusPolicyViolation, "too slow")
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close(code, reason)
	}
}

// writeLoop sends queued frames to the client in order until it is closed.
func (h *hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.logger.Printf("Failed to send to client: %v", err)
				h.remove(c, websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
