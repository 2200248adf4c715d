package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lunatix-dev/lunatix/internal/sidecar"
	"github.com/lunatix-dev/lunatix/internal/supervisor"
)

// Event topics published on the websocket stream.
const (
	TopicModeChanged   = "mode.changed"
	TopicSidecarOutput = "sidecar.output"
)

const hubWriteTimeout = 500 * time.Millisecond

// Event is one message on the websocket stream.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Op      string    `json:"op"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Hub fans events out to connected websocket clients. It is both a
// sidecar.Sink for relayed output and the supervisor's change callback.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
	accept  *websocket.AcceptOptions
}

// NewHub creates an empty hub. originPatterns are the cross-origin hosts
// allowed to open the stream; none means DefaultOriginPatterns.
func NewHub(logger *slog.Logger, originPatterns ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	if len(originPatterns) == 0 {
		originPatterns = DefaultOriginPatterns
	}

	return &Hub{
		clients: map[*websocket.Conn]struct{}{},
		logger:  logger.With(slog.String("component", "bridge.hub")),
		accept:  &websocket.AcceptOptions{OriginPatterns: originPatterns},
	}
}

// HandleWS upgrades the request and holds the connection until the client
// goes away. Client messages are read and discarded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Publish sends payload under topic to every connected client. Slow or
// broken clients are skipped after a short write timeout.
func (h *Hub) Publish(topic string, payload any) {
	evt := Event{
		ID:      uuid.NewString(),
		Type:    "event",
		Op:      topic,
		Time:    time.Now().UTC(),
		Payload: payload,
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("failed to encode event", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))

	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), hubWriteTimeout)
		_ = c.Write(ctx, websocket.MessageText, msg)

		cancel()
	}
}

// ModeChanged publishes a supervisor snapshot.
func (h *Hub) ModeChanged(snap supervisor.Snapshot) {
	h.Publish(TopicModeChanged, snap)
}

// Line implements sidecar.Sink.
func (h *Hub) Line(tag string, stream sidecar.Stream, line string) {
	h.Publish(TopicSidecarOutput, map[string]string{
		"tag":    tag,
		"stream": string(stream),
		"line":   line,
	})
}

var _ sidecar.Sink = (*Hub)(nil)
