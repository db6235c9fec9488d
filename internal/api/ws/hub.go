package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/pkg/dto"
)

const sendBuffer = 64

// Client is one connected WebSocket consumer.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID string // optional filter
}

type message struct {
	cameraID string
	data     []byte
}

// Hub fans recognition and attendance events out to connected clients.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub returns a hub accepting connections from origins. An empty list or
// "*" accepts any origin.
func NewHub(origins []string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Run is the hub event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.cameraID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				// Events without a camera reach every client.
				if client.cameraID != "" && msg.cameraID != "" && client.cameraID != msg.cameraID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow consumer
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastRecognition sends one recognised or unknown face to clients.
func (h *Hub) BroadcastRecognition(ev models.RecognitionEvent) {
	label := models.MatchResult{IdentityID: ev.IdentityID, DisplayName: ev.DisplayName}.Label()
	h.send(dto.WSEvent{
		Kind:      dto.WSKindRecognition,
		CameraID:  ev.CameraID,
		Timestamp: ev.Timestamp,
		Recognition: &dto.RecognizedFace{
			BBox:        ev.BBox,
			IdentityID:  ev.IdentityID,
			DisplayName: ev.DisplayName,
			Label:       label,
			Distance:    ev.Distance,
			Confident:   ev.Confident,
		},
	})
}

// BroadcastAttendance sends an accepted attendance transition to clients.
// Transitions marked through the API carry no camera and bypass the
// camera_id filter.
func (h *Hub) BroadcastAttendance(n models.AttendanceNotice) {
	camera := n.Source
	if camera == models.SourceAPI {
		camera = ""
	}
	h.send(dto.WSEvent{
		Kind:      dto.WSKindAttendance,
		CameraID:  camera,
		Timestamp: n.At,
		Attendance: &dto.WSAttendance{
			IdentityID: n.IdentityID,
			Type:       string(n.Type),
			Source:     n.Source,
		},
	})
}

// PublishAttendance broadcasts n. It lets the hub stand in for the event bus
// when none is configured.
func (h *Hub) PublishAttendance(_ context.Context, n models.AttendanceNotice) error {
	h.BroadcastAttendance(n)
	return nil
}

func (h *Hub) send(ev dto.WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{cameraID: ev.CameraID, data: data}:
	default:
		slog.Warn("ws broadcast queue full, dropping event", "kind", ev.Kind)
	}
}

// HandleWS upgrades the request. The optional camera_id query parameter
// limits the feed to one camera.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		cameraID: c.Query("camera_id"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; reading detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
