package rewardd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"finova/core/events"
)

const streamWriteTimeout = 10 * time.Second

// streamMessage is the JSON frame pushed to websocket subscribers.
type streamMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Hub fans emitted events out to websocket subscribers. Slow subscribers drop
// events rather than blocking the reward path.
type Hub struct {
	buffer int
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan streamMessage
	dropped uint64
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{buffer: buffer, logger: logger, subs: make(map[uint64]chan streamMessage)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	if h == nil || e == nil {
		return
	}
	msg := streamMessage{Type: e.EventType()}
	if ev := e.Event(); ev != nil {
		msg = streamMessage{Type: ev.Type, Attributes: ev.Attributes}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped++
		}
	}
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() (uint64, <-chan streamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan streamMessage, h.buffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// An optional type query parameter filters the feed by event type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("type")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Warn("event stream upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	// Reads only serve to notice the client going away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-ch:
			if filter != "" && msg.Type != filter {
				continue
			}
			if err := h.write(ctx, conn, msg); err != nil {
				if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
					h.logger.Debug("event stream write failed", slog.Any("error", err))
				}
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

var _ events.Emitter = (*Hub)(nil)

