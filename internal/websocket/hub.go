package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one connected websocket consumer
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan events.Event
	Hub  *Hub
}

// Hub fans supervisor events out to websocket clients. It subscribes to
// the event bus and forwards everything; a slow client drops messages
// rather than stalling the hub.
type Hub struct {
	bus        *events.Bus
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates a hub bound to the event bus
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// NewClient wraps a websocket connection for this hub
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan events.Event, 256),
		Hub:  h,
	}
}

// Run owns the client set until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	logger := logging.Component("websocket")

	eventCh, cancel := h.bus.Subscribe(512)
	defer cancel()

	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			logger.Debug("client connected", "client_id", client.ID, "total", len(h.clients))

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				logger.Debug("client disconnected", "client_id", client.ID, "total", len(h.clients))
			}

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			for client := range h.clients {
				select {
				case client.Send <- event:
				default:
					// Full buffer; the client misses this event
					logger.Warn("client send buffer full, dropping event", "client_id", client.ID)
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
				if client.Conn != nil {
					client.Conn.Close()
				}
			}
			return
		}
	}
}

// ReadPump drains the connection so pings are answered and a closed
// peer is noticed. Inbound payloads are ignored; all control flows over
// the HTTP API.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Component("websocket").Debug("read error", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

// WritePump streams events to the connection and keeps it alive with
// pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				w.Close()
				continue
			}
			w.Write(data)

			// Flush anything already queued into the same frame
			n := len(c.Send)
			for i := 0; i < n; i++ {
				queued := <-c.Send
				data, err := json.Marshal(queued)
				if err != nil {
					continue
				}
				w.Write([]byte("\n"))
				w.Write(data)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
