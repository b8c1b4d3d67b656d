package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware in front of the mux.
		return true
	},
}

// EventHub fans committed ledger events out to websocket subscribers. It is
// registered as a ledger observer; observers run on their own goroutines,
// so the hub serializes writes itself.
type EventHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{conns: make(map[*websocket.Conn]bool)}
}

// Subscribe registers a websocket connection.
func (h *EventHub) Subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

// Unsubscribe removes a websocket connection.
func (h *EventHub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// ConnectionCount returns the number of live subscribers.
func (h *EventHub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends one ledger event to every subscriber. A failed write is
// logged and left for the subscriber's read loop to clean up on disconnect.
func (h *EventHub) Broadcast(ev ledger.Event) {
	data, err := json.Marshal(newEventResponse(&ev))
	if err != nil {
		slog.Error("failed to marshal ledger event", "error", err, "type", ev.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send event to websocket client",
				"error", err, "type", ev.Type)
		}
	}
}

// EventStreamHandlers serves the live ledger event feed.
type EventStreamHandlers struct {
	hub *EventHub
}

// NewEventStreamHandlers creates an EventStreamHandlers instance.
func NewEventStreamHandlers(hub *EventHub) *EventStreamHandlers {
	return &EventStreamHandlers{hub: hub}
}

// Stream handles GET /events/ws: upgrades the connection and streams every
// committed ledger event until the client disconnects.
func (h *EventStreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err, "request_id", requestID)
		return
	}

	h.hub.Subscribe(conn)
	slog.InfoContext(ctx, "websocket client subscribed to ledger events",
		"request_id", requestID)

	defer func() {
		h.hub.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed", "request_id", requestID)
	}()

	// Clients send nothing; the read loop only detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err, "request_id", requestID)
			}
			return
		}
	}
}
