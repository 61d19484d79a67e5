// Package telemetry distributes the operator-visible event stream: a
// ring-buffered log of (timestamp, message) events with SSE delivery
// and Last-Event-ID replay.
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
)

// Event is one operator-visible log entry.
type Event struct {
	ID      int64                  `json:"id"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	TS      time.Time              `json:"ts"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the core.
const (
	TypeLog         = "log"
	TypeBusOpened   = "busOpened"
	TypeBusClosed   = "busClosed"
	TypeTransmitter = "transmitter"
	TypeHeartbeat   = "heartbeat"
)

// Client is one SSE subscriber connection.
type Client struct {
	id     string
	writer http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	mu     sync.Mutex // protects writer access
}

// Hub buffers events and fans them out to SSE subscribers. Slow
// clients have events dropped rather than blocking the publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  *EventBuffer
	nextID  int64

	heartbeatInterval time.Duration
	heartbeatTicker   *time.Ticker
	stopHeartbeat     chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub with the given ring buffer capacity and
// heartbeat interval.
func NewHub(bufferCapacity int, heartbeatInterval time.Duration) *Hub {
	return &Hub{
		clients:           make(map[string]*Client),
		buffer:            NewEventBuffer(bufferCapacity),
		heartbeatInterval: heartbeatInterval,
		done:              make(chan struct{}),
	}
}

// Publish assigns a monotonic ID and timestamp, buffers the event and
// delivers it to all connected clients.
func (h *Hub) Publish(event Event) {
	if event.ID == 0 {
		event.ID = atomic.AddInt64(&h.nextID, 1)
	}
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	if event.Type != TypeHeartbeat {
		h.buffer.Add(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case <-h.done:
			return
		case c.events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop for slow clients to avoid blocking transmit loops.
		}
	}
}

// Log publishes a plain log event.
func (h *Hub) Log(message string, data map[string]interface{}) {
	h.Publish(Event{Type: TypeLog, Message: message, Data: data})
}

// Logf publishes a formatted log event.
func (h *Hub) Logf(format string, args ...interface{}) {
	h.Publish(Event{Type: TypeLog, Message: fmt.Sprintf(format, args...)})
}

// Recent returns buffered events with IDs greater than afterID.
func (h *Hub) Recent(afterID int64) []Event {
	return h.buffer.EventsAfter(afterID)
}

// Subscribe attaches an SSE client and blocks until it disconnects.
// A Last-Event-ID header (or lastEventId query parameter) replays
// buffered events published after that ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		id:     fmt.Sprintf("client_%d", time.Now().UnixNano()),
		writer: w,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, 100),
	}

	lastID := int64(0)
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastID = id
		}
	} else if raw := r.URL.Query().Get("lastEventId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastID = id
		}
	}

	h.mu.Lock()
	h.clients[client.id] = client
	if len(h.clients) == 1 && h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	// Replay missed events before live delivery.
	for _, event := range h.buffer.EventsAfter(lastID) {
		if err := h.writeEvent(client, event); err != nil {
			h.unregister(client.id)
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.serveClient(client)
	return nil
}

// serveClient delivers events until the client disconnects or the hub
// stops. The events channel is never closed: publishers may still hold
// a reference to a departed client, so teardown is signalled through
// the context and the registry map only.
func (h *Hub) serveClient(c *Client) {
	defer h.unregister(c.id)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-h.done:
			return
		case event := <-c.events:
			if err := h.writeEvent(c, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeEvent(c *Client, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		c.cancel()
		delete(h.clients, clientID)
		if len(h.clients) == 0 && h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
	}
}

// startHeartbeat runs while at least one client is connected. Caller
// holds h.mu and has verified h.heartbeatTicker == nil.
func (h *Hub) startHeartbeat() {
	if h.heartbeatInterval <= 0 {
		return
	}
	h.heartbeatTicker = time.NewTicker(h.heartbeatInterval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{Type: TypeHeartbeat, Message: "alive"})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.done)

	h.mu.Lock()
	for _, c := range h.clients {
		c.cancel()
	}
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
	h.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
	}

	h.mu.Lock()
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
}

// EventBuffer is a fixed-capacity ring of recent events supporting
// replay by event ID.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a buffer holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an event, evicting the oldest when full.
func (b *EventBuffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// EventsAfter returns buffered events with IDs greater than lastID.
func (b *EventBuffer) EventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events {
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// Size reports the number of buffered events.
func (b *EventBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
