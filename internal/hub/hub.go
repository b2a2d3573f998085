// Package hub fans out state-changing events to connected real-time observers.
//
// Each observer owns a buffered queue. Publishing never blocks: an observer
// whose queue is full, or whose transport reports a failed send, is removed
// from the hub while every other observer keeps receiving. A ring buffer of
// recent events supports Last-Event-ID replay on reconnect.
package hub

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
)

// Event types published to observers.
const (
	EventReport          = "report"
	EventCommand         = "command"
	EventThreatAlert     = "threat_alert"
	EventSecurity        = "security_event"
	EventAgentRegistered = "agent_registered"
	EventAgentStale      = "agent_stale"
	EventDirective       = "directive"
	EventTacticUpdated   = "tactic_updated"
)

const (
	defaultRingSize = 1000
	defaultQueue    = 64
)

// Event is a single published event.
type Event struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"timestamp"`
}

// Options configures a Hub.
type Options struct {
	// QueueSize is the per-observer buffer. Default: 64.
	QueueSize int
	// RingSize is the number of recent events kept for replay. Default: 1000.
	RingSize int
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Hub is the set of connected observers.
type Hub struct {
	queueSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	nextID  atomic.Uint64

	ringMu  sync.RWMutex
	ring    []Event
	ringPos int
	ringLen int
}

// Client is one registered observer.
type Client struct {
	ID    string
	types []string
	ch    chan *Event

	hub  *Hub
	done chan struct{}
	once sync.Once
}

// New creates an empty hub.
func New(o Options) *Hub {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueue
	}
	if o.RingSize <= 0 {
		o.RingSize = defaultRingSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Hub{
		queueSize: o.QueueSize,
		metrics:   o.Metrics,
		logger:    o.Logger,
		clients:   make(map[*Client]struct{}),
		ring:      make([]Event, o.RingSize),
	}
}

// Publish encodes payload and delivers it to every observer whose filter
// matches eventType. Observers that cannot keep up are removed.
func (h *Hub) Publish(eventType string, payload any) *Event {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("hub: failed to marshal event", "type", eventType, "err", err)
		return nil
	}
	evt := &Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		Data: data,
		Time: time.Now().UTC(),
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % len(h.ring)
	if h.ringLen < len(h.ring) {
		h.ringLen++
	}
	h.ringMu.Unlock()

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.Matches(eventType) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Info("hub: evicting slow observer", "client_id", c.ID, "type", eventType)
		h.evict(c)
	}
	return evt
}

// Register adds an observer. types filters event types with glob patterns
// ("*", "threat_*"); empty receives everything.
func (h *Hub) Register(types []string) *Client {
	c := &Client{
		ID:    uuid.NewString(),
		types: types,
		ch:    make(chan *Event, h.queueSize),
		hub:   h,
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetHubClients(n)
	return c
}

// Unregister removes an observer that disconnected on its own.
func (h *Hub) Unregister(c *Client) {
	h.remove(c)
}

func (h *Hub) evict(c *Client) {
	if h.remove(c) {
		h.metrics.IncHubEvicted()
	}
}

// remove reports whether c was still registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	if ok {
		h.metrics.SetHubClients(n)
	}
	return ok
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EventsSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) EventsSince(lastID uint64) []*Event {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var out []*Event
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += len(h.ring)
	}
	for i := range h.ringLen {
		evt := h.ring[(start+i)%len(h.ring)]
		if evt.ID > lastID {
			out = append(out, &evt)
		}
	}
	return out
}

// Events is the observer's delivery queue.
func (c *Client) Events() <-chan *Event {
	return c.ch
}

// Done is closed once the observer has been removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Fail removes the observer after a failed send on its transport.
func (c *Client) Fail(err error) {
	c.hub.logger.Info("hub: observer send failed", "client_id", c.ID, "err", err)
	c.hub.evict(c)
}

// Matches reports whether the observer's filter accepts eventType.
func (c *Client) Matches(eventType string) bool {
	if len(c.types) == 0 {
		return true
	}
	for _, p := range c.types {
		if matchPattern(p, eventType) {
			return true
		}
	}
	return false
}

// matchPattern supports a trailing "*" as a prefix wildcard.
func matchPattern(pattern, s string) bool {
	if pattern == "*" || pattern == s {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(s, prefix)
	}
	return false
}
