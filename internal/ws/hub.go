package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event kinds pushed to subscribers.
const (
	EventChunk   = "chunk"
	EventFile    = "file"
	EventSession = "session"
	EventError   = "error"
)

// Event is one progress message for a session room.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Payload   any    `json:"payload"`
}

// ControlFunc receives pause/resume requests sent by a subscriber.
type ControlFunc func(sessionID, action string)

// Hub fans progress events out to per-session subscriber rooms. A
// single goroutine (Run) owns the room map.
type Hub struct {
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	onControl ControlFunc

	register   chan *client
	unregister chan *client
	broadcast  chan Event
	rooms      map[string]map[*client]bool
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 64),
		rooms:      make(map[string]map[*client]bool),
	}
}

// SetControlFunc installs the pause/resume callback. Must be called
// before Run.
func (h *Hub) SetControlFunc(fn ControlFunc) {
	h.onControl = fn
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[string]map[*client]bool)
			return

		case c := <-h.register:
			room := h.rooms[c.sessionID]
			if room == nil {
				room = make(map[*client]bool)
				h.rooms[c.sessionID] = room
			}
			room[c] = true

		case c := <-h.unregister:
			if room, ok := h.rooms[c.sessionID]; ok {
				if room[c] {
					delete(room, c)
					close(c.send)
				}
				if len(room) == 0 {
					delete(h.rooms, c.sessionID)
				}
			}

		case evt := <-h.broadcast:
			for c := range h.rooms[evt.SessionID] {
				select {
				case c.send <- evt:
				default:
					// Slow subscriber, drop it.
					delete(h.rooms[evt.SessionID], c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues an event for the session's room. Events are dropped
// when the hub is saturated rather than blocking the upload path.
func (h *Hub) Broadcast(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Debug("progress event dropped", zap.String("session", evt.SessionID))
	}
}

// Serve upgrades the request and subscribes it to the session's room.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan Event, 16),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}
