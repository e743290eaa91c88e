// Package events provides the in-process fan-out of command lifecycle
// events to connected WebSocket clients.
package events

import (
	"sync"
	"time"
)

// Event describes one command execution observed by the service.
type Event struct {
	Type       string        `json:"type"` // "command.executed"
	UserID     string        `json:"user_id,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	Command    string        `json:"command"`
	Success    bool          `json:"success"`
	ReturnCode int           `json:"return_code"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EventCommandExecuted is published after every execution attempt,
// rejected or run.
const EventCommandExecuted = "command.executed"

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// behind loses events rather than blocking publishers.
const subscriberBuffer = 16

// Hub fans events out to subscribers. The zero value is not usable; use
// NewHub.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release it; the channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop.
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
