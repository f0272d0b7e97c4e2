package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventEntrySynced       = "entry_synced"
	EventEntryRetried      = "entry_retried"
	EventEntryDeadLettered = "entry_dead_lettered"
	EventEntryDropped      = "entry_dropped"
	EventBatchRejected     = "batch_rejected"
	EventCycleCompleted    = "cycle_completed"
)

// EntryEventPayload describes what happened to one queue entry.
type EntryEventPayload struct {
	EntryID      string `json:"entry_id"`
	TaskID       string `json:"task_id"`
	Operation    string `json:"operation"`
	Attempts     int    `json:"attempts,omitempty"`
	Error        string `json:"error,omitempty"`
	Reason       string `json:"reason,omitempty"`
	DeadLetterID string `json:"dead_letter_id,omitempty"`
	ServerID     string `json:"server_id,omitempty"`
}

// BatchEventPayload describes a batch the peer refused as a whole.
type BatchEventPayload struct {
	Checksum string   `json:"checksum"`
	EntryIDs []string `json:"entry_ids"`
	Error    string   `json:"error"`
}

// CycleEventPayload summarizes one finished sync cycle.
type CycleEventPayload struct {
	Success     bool      `json:"success"`
	Aborted     bool      `json:"aborted"`
	SyncedItems int       `json:"synced_items"`
	FailedItems int       `json:"failed_items"`
	Deferred    int       `json:"deferred"`
	Errors      int       `json:"errors"`
	Pending     int       `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	nextID      int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously and
// their errors are returned joined in subscription order.
func (b *EventBus) Publish(event *Event) []error {
	b.mu.Lock()
	b.nextID++
	if event.ID == 0 {
		event.ID = b.nextID
	}
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PublishJSON serializes the payload and publishes an event. Handler failures do not
// fail the publisher.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// Decode unmarshals the event payload into out.
func (e *Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}
