// Package events provides the in-process event bus that carries registry
// changes and connection state to the renderers and the local API.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventUploadAdded     EventType = "upload_added"
	EventUploadUpdated   EventType = "upload_updated"
	EventUploadRemoved   EventType = "upload_removed"
	EventUploadCompleted EventType = "upload_completed" // moved to READY_FOR_REVIEW
	EventUploadFailed    EventType = "upload_failed"
	EventUploadsReplaced EventType = "uploads_replaced" // snapshot from another process

	EventConnectionChanged EventType = "connection_changed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// UploadEvent carries the record after a single-record change. For
// EventUploadRemoved it is the record as it was before removal.
type UploadEvent struct {
	BaseEvent
	Record    models.UploadRecord
	Dismissed bool // removal was a user dismissal
}

// ReplacedEvent carries the full registry after a cross-process sync.
type ReplacedEvent struct {
	BaseEvent
	Records []models.UploadRecord
}

// ConnectionEvent reports a push channel state transition.
type ConnectionEvent struct {
	BaseEvent
	State string
	Err   error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to the given event types
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	for _, t := range types {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for
// a full subscriber are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// PublishUpload is a convenience method for single-record events
func (eb *EventBus) PublishUpload(t EventType, rec models.UploadRecord, dismissed bool) {
	eb.Publish(&UploadEvent{
		BaseEvent: BaseEvent{EventType: t, Time: time.Now()},
		Record:    rec,
		Dismissed: dismissed,
	})
}

// PublishReplaced is a convenience method for snapshot events
func (eb *EventBus) PublishReplaced(records []models.UploadRecord) {
	eb.Publish(&ReplacedEvent{
		BaseEvent: BaseEvent{EventType: EventUploadsReplaced, Time: time.Now()},
		Records:   records,
	})
}

// PublishConnection is a convenience method for connection state events
func (eb *EventBus) PublishConnection(state string, err error) {
	eb.Publish(&ConnectionEvent{
		BaseEvent: BaseEvent{EventType: EventConnectionChanged, Time: time.Now()},
		State:     state,
		Err:       err,
	})
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	seen := make(map[chan Event]bool)
	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from every event type it
// was registered for. The channel is not closed.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}
	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
