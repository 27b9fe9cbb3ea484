package run

import (
	"strings"
	"sync"

	"quorum/internal/pipeline"
)

// EventType is the "type" field of a message pushed to session watchers.
type EventType string

const (
	EventSubscribed EventType = "subscribed"
	EventAccepted   EventType = "accepted"
	EventProgress   EventType = "progress"
	EventDone       EventType = "done"
	EventError      EventType = "error"
	EventPong       EventType = "pong"
)

// Event is one message for the watchers of a chat session.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Step    int       `json:"step,omitempty"`
	Total   int       `json:"total,omitempty"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// ProgressEvent converts a pipeline stage event.
func ProgressEvent(runID string, ev pipeline.StageEvent) Event {
	return Event{Type: EventProgress, RunID: runID, Stage: ev.Label, Step: ev.Step, Total: ev.Total}
}

// EventBroker fans session events out to every subscriber. Slow subscribers
// lose their oldest queued events rather than blocking the publisher.
type EventBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a buffered channel for sessionID. The returned func
// removes the subscription and closes the channel.
func (b *EventBroker) Subscribe(sessionID string, size int) (<-chan Event, func()) {
	if size <= 0 {
		size = 1
	}
	key := strings.TrimSpace(sessionID)
	ch := make(chan Event, size)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]chan Event)
	}
	b.subs[key][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], id)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to all current subscribers of sessionID.
func (b *EventBroker) Publish(sessionID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[strings.TrimSpace(sessionID)] {
		push(ch, ev)
	}
}

// Subscribers reports how many watchers sessionID has.
func (b *EventBroker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[strings.TrimSpace(sessionID)])
}

// push is a non-blocking send that drops the oldest queued event when ch
// is full.
func push(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
