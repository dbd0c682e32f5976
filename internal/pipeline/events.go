package pipeline

import (
	"sync"
	"time"

	"conduit/internal/store"
)

// EventType labels pipeline lifecycle events.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventUploadCompleted   EventType = "upload_completed"
	EventStageChanged      EventType = "stage_changed"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineFailed    EventType = "pipeline_failed"
)

// Event describes one pipeline lifecycle change.
type Event struct {
	PipelineID string
	Type       EventType
	Stage      store.Stage
	Message    string
	Timestamp  time.Time
}

// Bus fans pipeline events out to subscribers. Slow subscribers drop events
// rather than stall the pipeline.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	next        int
	closed      bool
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close tears down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
