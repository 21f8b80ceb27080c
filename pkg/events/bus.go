package events

import (
	"sync"
	"time"

	"github.com/grovechat/grove/pkg/logger"
)

// Event represents a change notification in the system
type Event struct {
	Type      string
	Key       string // synchronization key or tree id the event is scoped to
	Payload   interface{}
	Source    string
	Timestamp time.Time
}

// Handler is a function that handles events
type Handler func(event Event)

// Bus provides decoupled change notification between engine components.
// Mutations publish synchronously so a subscriber never observes state
// older than the event that announced it.
type Bus struct {
	handlers map[string][]Handler
	mutex    sync.RWMutex
	log      *logger.Logger
	buffer   chan Event
	done     chan struct{}
	once     sync.Once
}

// NewBus creates a new event bus
func NewBus() *Bus {
	bus := &Bus{
		handlers: make(map[string][]Handler),
		log:      logger.WithComponent("event_bus"),
		buffer:   make(chan Event, 100),
		done:     make(chan struct{}),
	}

	go bus.processEvents()

	return bus
}

// Subscribe adds a handler for a specific event type. Handlers subscribed
// to "*" receive every event.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.log.Debug("handler subscribed type=%s", eventType)
}

// Unsubscribe removes all handlers for a specific event type.
// Function values are not comparable, so removal is per-type.
func (b *Bus) Unsubscribe(eventType string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.handlers[eventType]) > 0 {
		b.handlers[eventType] = nil
		b.log.Debug("handlers unsubscribed type=%s", eventType)
	}
}

// Publish queues an event for asynchronous delivery.
func (b *Bus) Publish(eventType, key string, payload interface{}, source string) {
	event := Event{
		Type:      eventType,
		Key:       key,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}

	select {
	case b.buffer <- event:
	default:
		b.log.Warn("event buffer full, dropping event type=%s key=%s", eventType, key)
	}
}

// PublishSync delivers an event to all handlers on the caller's goroutine.
// Engine mutations use this so the mutation and its notification land in
// the same turn.
func (b *Bus) PublishSync(eventType, key string, payload interface{}, source string) {
	event := Event{
		Type:      eventType,
		Key:       key,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}

	b.deliverEvent(event, false)
}

// processEvents runs in a goroutine to process queued events
func (b *Bus) processEvents() {
	for {
		select {
		case event := <-b.buffer:
			b.deliverEvent(event, true)
		case <-b.done:
			return
		}
	}
}

// deliverEvent delivers an event to all registered handlers
func (b *Bus) deliverEvent(event Event, async bool) {
	b.mutex.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mutex.RUnlock()

	for _, handler := range handlers {
		h := handler
		call := func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked type=%s err=%v", event.Type, r)
				}
			}()
			h(event)
		}
		if async {
			go call()
		} else {
			call()
		}
	}
}

// Close shuts down the event bus
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

// Event type constants
const (
	// Path cache events
	EventPathChanged  = "path_changed"
	EventPathMigrated = "path_migrated"

	// Tree store events
	EventGraphRefreshed = "graph_refreshed"
	EventNodePending    = "node_pending"
	EventNodeRetracted  = "node_retracted"
	EventTreeDeleted    = "tree_deleted"

	// Stream session events
	EventStreamStarted   = "stream_started"
	EventStreamFrame     = "stream_frame"
	EventStreamCompleted = "stream_completed"
	EventStreamFailed    = "stream_failed"
	EventStreamCancelled = "stream_cancelled"

	// Send orchestration events
	EventSendStarted  = "send_started"
	EventSendFailed   = "send_failed"
	EventInputRestore = "input_restore"

	// Unread tracking events
	EventUnreadChanged = "unread_changed"
)

// Event payload structures

type PathChangedPayload struct {
	MessageCount int
}

type MigratedPayload struct {
	OldKey string
	NewKey string
}

type PendingNodePayload struct {
	TreeID   string
	NodeID   string
	ParentID string
	Role     string
	Content  string
}

type SendFailedPayload struct {
	Err           error
	RestoredInput string
}

type UnreadPayload struct {
	TreeID string
	NodeID string
	Unread bool
}
