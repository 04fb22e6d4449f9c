// Package hmr pushes live reload signals to browsers over server-sent events.
package hmr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/telemetry"
)

// Path is where browsers subscribe to reload events.
const Path = "/__devserve/hmr"

const (
	defaultKeepaliveInterval = 15 * time.Second
	clientBuffer             = 16
)

// Event kinds sent to the browser.
const (
	EventConnected = "connected"
	EventReload    = "reload"
	EventError     = "error"
)

// ReloadPayload lists the files whose change triggered a reload.
type ReloadPayload struct {
	Paths []string `json:"paths"`
}

// ErrorPayload carries a build failure to display in the browser console.
type ErrorPayload struct {
	Message string `json:"message"`
}

type message struct {
	data []byte
}

// Hub tracks connected browsers and fans out events to them.
type Hub struct {
	clients           map[string]chan message
	keepaliveInterval time.Duration
	closed            bool
	mu                sync.Mutex
}

func NewHub() *Hub {
	return newHubWithKeepalive(defaultKeepaliveInterval)
}

func newHubWithKeepalive(keepalive time.Duration) *Hub {
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	return &Hub{
		clients:           make(map[string]chan message),
		keepaliveInterval: keepalive,
	}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Reload tells every browser to reload the page.
func (h *Hub) Reload(ctx context.Context, paths []string) {
	if paths == nil {
		paths = []string{}
	}
	if h.publish(ctx, EventReload, ReloadPayload{Paths: paths}) {
		telemetry.GetMetrics().ReloadsTotal.Add(ctx, 1)
	}
}

// Error reports a failed rebuild to every browser.
func (h *Hub) Error(ctx context.Context, err error) {
	h.publish(ctx, EventError, ErrorPayload{Message: err.Error()})
}

func (h *Hub) publish(ctx context.Context, event string, payload any) bool {
	data, err := formatEvent(event, payload)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("event", event).Msg("Failed to format event")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		select {
		case ch <- message{data: data}:
		default:
			zerolog.Ctx(ctx).Debug().Str("client", id).Str("event", event).Msg("Client too slow, dropping event")
		}
	}

	zerolog.Ctx(ctx).Debug().Str("event", event).Int("clients", len(h.clients)).Msg("Broadcast event")
	return true
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *Hub) add() (string, chan message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", nil, false
	}

	id := uuid.NewString()
	ch := make(chan message, clientBuffer)
	h.clients[id] = ch
	return id, ch, true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// ServeHTTP streams events to one browser until it disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	id, ch, ok := h.add()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.remove(id)

	metrics := telemetry.GetMetrics()
	metrics.HMRClients.Add(ctx, 1)
	defer metrics.HMRClients.Add(context.WithoutCancel(ctx), -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log.Debug().Str("client", id).Msg("Live reload client connected")

	hello, err := formatEvent(EventConnected, map[string]string{"id": id})
	if err != nil {
		return
	}
	if err := writeAndFlush(w, flusher, hello); err != nil {
		return
	}

	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("client", id).Msg("Live reload client disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeAndFlush(w, flusher, msg.data); err != nil {
				return
			}
			keepalive.Reset(h.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, []byte(": keepalive\n\n")); err != nil {
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func formatEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data), nil
}
