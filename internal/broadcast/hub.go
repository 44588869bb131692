// Package broadcast fans state-change events out to in-process subscribers and
// websocket clients. Delivery is best effort: slow subscribers lose events.
package broadcast

import (
	"sync"
	"time"

	"tradeengine/internal/logger"
)

const (
	TopicSignals   = "signals"
	TopicPositions = "positions"
)

type EventType string

const (
	SignalCreated   EventType = "SIGNAL_CREATED"
	SignalUpdated   EventType = "SIGNAL_UPDATED"
	PositionOpened  EventType = "POSITION_OPENED"
	PositionUpdated EventType = "POSITION_UPDATED"
	PositionClosed  EventType = "POSITION_CLOSED"
)

// Event is one message on a topic. Payload must be JSON-encodable.
type Event struct {
	Topic     string    `json:"topic"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data"`
}

// Publisher is what state machines depend on.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

type subscriber struct {
	ch     chan Event
	topics map[string]bool
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// Hub is an in-process Publisher with topic-filtered subscriptions.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber), now: time.Now}
}

// Subscribe returns a channel of events for the given topics (none = all) and a
// cancel func that closes it.
func (h *Hub) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer), topics: make(map[string]bool, len(topics))}
	for _, t := range topics {
		sub.topics[t] = true
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(e.Topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.noteDrop(e)
		}
	}
}

func (h *Hub) noteDrop(e Event) {
	logger.Debugf("broadcast subscriber full, dropping %s/%s", e.Topic, e.Type)
}

// Subscribers reports the current subscription count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Multi publishes to several sinks.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
