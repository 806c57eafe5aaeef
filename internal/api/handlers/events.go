package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
	"github.com/yourusername/craft-server-supervisor/internal/websocket"
)

// EventsHandler upgrades clients onto the websocket event stream
type EventsHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

// NewEventsHandler creates the websocket upgrade handler. Origins are
// checked against the CORS allowlist.
func NewEventsHandler(hub *websocket.Hub, cors config.CORSConfig) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cors.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Stream upgrades the connection and attaches it to the hub
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Component("websocket").Warn("upgrade failed", "error", err, "ip", c.ClientIP())
		return
	}

	client := h.hub.NewClient(conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
