package service

import (
	"sync"

	"nbsync/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventPassStarted      EventType = "pass_started"
	EventEntityReconciled EventType = "entity_reconciled"
	EventEntityFailed     EventType = "entity_failed"
	EventPassFinished     EventType = "pass_finished"
)

// Event is published while a pass runs
type Event struct {
	Type    EventType             `json:"type"`
	Batch   string                `json:"batch"`
	Outcome *domain.EntityOutcome `json:"outcome,omitempty"`
}

// EventBus fans pass progress out to subscribers. A nil bus drops events.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

func (eb *EventBus) publishOutcome(batch string, o domain.EntityOutcome) {
	t := EventEntityReconciled
	if o.Failed() {
		t = EventEntityFailed
	}
	eb.Publish(Event{Type: t, Batch: batch, Outcome: &o})
}
