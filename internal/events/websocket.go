package events

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// SubscribeMessage is sent by clients to restrict the contracts they follow.
// An empty list follows every contract.
type SubscribeMessage struct {
	Type        string   `json:"type"`
	ContractIDs []uint64 `json:"contract_ids"`
}

// Connection is a websocket client
type Connection struct {
	ID          string
	Principal   string
	conn        *websocket.Conn
	send        chan Event
	mu          sync.Mutex
	contractIDs map[uint64]bool
}

func (c *Connection) follows(contractID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contractIDs) == 0 || c.contractIDs[contractID]
}

// Hub fans published events out to websocket connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan Event
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	go h.run()
	return h
}

// Publish queues the event for delivery, dropping it when the hub is saturated
func (h *Hub) Publish(ctx context.Context, event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Event hub saturated, dropping event",
			zap.String("type", string(event.Type)),
			zap.Uint64("contract_id", event.ContractID))
	}
}

// HandleConnection upgrades the request and serves the connection until it closes
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, principal string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Principal:   principal,
		conn:        conn,
		send:        make(chan Event, 64),
		contractIDs: make(map[uint64]bool),
	}

	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return fmt.Errorf("event hub stopped")
	}

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *Connection) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg SubscribeMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Websocket read failed", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}
		if msg.Type != "subscribe" {
			continue
		}
		c.mu.Lock()
		c.contractIDs = make(map[uint64]bool, len(msg.ContractIDs))
		for _, id := range msg.ContractIDs {
			c.contractIDs[id] = true
		}
		c.mu.Unlock()
	}
}

func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c] = true
			h.mu.Unlock()
			h.logger.Debug("Websocket registered", zap.String("connection_id", c.ID), zap.String("principal", c.Principal))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.connections[c] {
				delete(h.connections, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for c := range h.connections {
				if !c.follows(event.ContractID) {
					continue
				}
				select {
				case c.send <- event:
				default:
					// slow consumer
					delete(h.connections, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for c := range h.connections {
				delete(h.connections, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every client and stops the hub
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}
