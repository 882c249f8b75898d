package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motor-control/mcn/internal/config"
)

// SnapshotFunc returns the state embedded in a client's ready event.
type SnapshotFunc func() any

// client is one SSE subscriber.
type client struct {
	id     string
	w      http.ResponseWriter
	cancel context.CancelFunc
	ctx    context.Context
	events chan Event
	mu     sync.Mutex // guards w
}

// Hub fans telemetry out to SSE clients.
//
// Event IDs are monotonic across the hub. Heartbeats carry no ID and are not
// buffered so they never disturb a client's resume position.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  atomic.Int64
	seq     atomic.Int64
	buffer  *EventBuffer
	cfg     config.TelemetryConfig

	snapshot SnapshotFunc

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub with the given settings.
func NewHub(cfg config.TelemetryConfig) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		buffer:  NewEventBuffer(cfg.EventBufferSize),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// SetSnapshot installs the provider for ready-event state.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe streams events to w until ctx is done, the client goes away or
// the hub stops. A Last-Event-ID header replays buffered events after that ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	select {
	case <-h.done:
		return fmt.Errorf("telemetry hub stopped")
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control, Last-Event-ID")

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastEventID := int64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = id
		}
	}

	c := &client{
		id:     fmt.Sprintf("client_%d", h.seq.Add(1)),
		w:      w,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, h.clientBufferSize()),
	}

	// Register before replay so nothing published in between is lost.
	h.register(c)
	defer h.unregister(c.id)

	if err := h.sendEvent(c, h.readyEvent()); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	sent := lastEventID
	if lastEventID > 0 {
		for _, event := range h.buffer.GetEventsAfter(lastEventID) {
			if err := h.sendEvent(c, event); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
			sent = event.ID
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-c.events:
			// Skip live events already delivered by replay.
			if event.ID != 0 && event.ID <= sent {
				continue
			}
			if err := h.sendEvent(c, event); err != nil {
				return nil
			}
			if event.ID != 0 {
				sent = event.ID
			}
		}
	}
}

// Publish assigns an ID, buffers the event and queues it for every client.
// Slow clients drop events rather than block the publisher.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	if event.Type != EventHeartbeat {
		event.ID = h.nextID.Add(1)
		h.buffer.AddEvent(event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.events <- event:
		default:
		}
	}
	return nil
}

// LastEventID returns the ID of the most recently published event.
func (h *Hub) LastEventID() int64 {
	return h.nextID.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats summarizes the hub for status reporting.
type Stats struct {
	Clients        int   `json:"clients"`
	LastEventID    int64 `json:"lastEventId"`
	Buffered       int   `json:"buffered"`
	BufferCapacity int   `json:"bufferCapacity"`
}

// Stats returns the current client count and replay buffer occupancy.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:        h.ClientCount(),
		LastEventID:    h.LastEventID(),
		Buffered:       h.buffer.GetSize(),
		BufferCapacity: h.buffer.GetCapacity(),
	}
}

// Buffer exposes the replay buffer.
func (h *Hub) Buffer() *EventBuffer {
	return h.buffer
}

func (h *Hub) clientBufferSize() int {
	if h.cfg.ClientBufferSize > 0 {
		return h.cfg.ClientBufferSize
	}
	return 100
}

func (h *Hub) readyEvent() Event {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()

	data := map[string]any{}
	if fn != nil {
		data["snapshot"] = fn()
	}
	return Event{Type: EventReady, TS: time.Now().UTC(), Data: data}
}

// sendEvent writes one SSE frame and flushes it.
func (h *Hub) sendEvent(c *client, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if flusher, ok := c.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
	if len(h.clients) == 1 && h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.cancel()
	delete(h.clients, id)

	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}
	// Half the jitter spreads heartbeats of co-located nodes.
	interval += h.cfg.HeartbeatJitter / 2

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatTicker = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// stopHeartbeatLocked stops the ticker goroutine. Caller holds h.mu.
func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker == nil {
		return
	}
	h.heartbeatTicker.Stop()
	h.heartbeatTicker = nil
	close(h.stopHeartbeat)
	h.stopHeartbeat = nil
}

// Stop disconnects every client and stops the heartbeat. It is safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		h.stopHeartbeatLocked()
		h.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-time.After(5 * time.Second):
		}
	})
}
