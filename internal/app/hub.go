package app

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Conn is one live connection's outbound mailbox. The transport drains
// Outbound with a writer goroutine; the session pushes frames in.
type Conn struct {
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newConn() *Conn {
	return &Conn{send: make(chan []byte, 16)}
}

// Outbound is the channel of encoded frames to write to the peer. It is
// closed when the connection is detached from the hub.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Send encodes a frame and queues it for this connection only.
func (c *Conn) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.push(payload)
	return nil
}

// push queues a payload without blocking. A slow consumer loses its oldest
// pending frame so one stuck connection cannot stall a broadcast.
func (c *Conn) push(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ConnectionHub tracks one session's live connections and which participant
// identity each is bound to. Connections are transient; binding happens only
// after a valid join declaration.
type ConnectionHub struct {
	mu    sync.RWMutex
	conns map[*Conn]uuid.UUID // uuid.Nil until a join declaration binds it
}

func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{conns: make(map[*Conn]uuid.UUID)}
}

// Attach registers a new connection with no identity yet.
func (h *ConnectionHub) Attach() *Conn {
	conn := newConn()
	h.mu.Lock()
	h.conns[conn] = uuid.Nil
	h.mu.Unlock()
	return conn
}

// Detach removes a connection and closes its mailbox. The participant bound
// to it, if any, stays in the session.
func (h *ConnectionHub) Detach(conn *Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if ok {
		conn.close()
	}
}

// Bind maps a connection to a participant identity.
func (h *ConnectionHub) Bind(conn *Conn, userID uuid.UUID) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		h.conns[conn] = userID
	}
	h.mu.Unlock()
}

// Broadcast encodes a frame once and fans it out to every attached
// connection. Delivery failures are isolated per connection.
func (h *ConnectionHub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		conn.push(payload)
	}
}

// ConnectedIdentities returns the set of identities currently bound to a
// live connection.
func (h *ConnectionHub) ConnectedIdentities() map[uuid.UUID]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make(map[uuid.UUID]struct{}, len(h.conns))
	for _, id := range h.conns {
		if id != uuid.Nil {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// Len reports the number of attached connections.
func (h *ConnectionHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
