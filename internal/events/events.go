// Package events carries state changes from the browsing and transfer
// layers to whoever renders them. Publishing never blocks: a subscriber
// that falls behind loses events and the bus counts them.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/rescale-drive/internal/constants"
)

type EventType string

const (
	EventLog EventType = "log"

	EventTransferQueued    EventType = "transfer_queued"
	EventTransferStarted   EventType = "transfer_started"
	EventTransferProgress  EventType = "transfer_progress"
	EventTransferCompleted EventType = "transfer_completed"
	EventTransferFailed    EventType = "transfer_failed"
	EventTransferDismissed EventType = "transfer_dismissed"

	// EventNavigationChanged follows every push, pop or page move of the folder stack.
	EventNavigationChanged EventType = "navigation_changed"
	EventListingLoaded     EventType = "listing_loaded"
	EventCacheInvalidated  EventType = "cache_invalidated"

	// anyType keys the subscribers that want everything.
	anyType EventType = "*"
)

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func stamp(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent mirrors warnings and errors written through logging.Logger.
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Stage   string
	Error   error
}

// TransferEvent describes one queued upload or archive task.
type TransferEvent struct {
	BaseEvent
	TaskID         string
	TaskKind       string
	TargetFolderID string
	Name           string
	Progress       int
	Error          error
}

type NavigationEvent struct {
	BaseEvent
	FolderID   string
	FolderName string
	Depth      int
	Page       int
	Generation uint64
}

// ListingEvent is used both for a page reaching the view and for a
// folder's cache entry being dropped.
type ListingEvent struct {
	BaseEvent
	FolderID  string
	Page      int
	ItemCount int
	FromCache bool
}

type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]chan Event
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize
// events. Out-of-range sizes are clamped to the package defaults.
func NewEventBus(bufferSize int) *EventBus {
	switch {
	case bufferSize <= 0:
		bufferSize = constants.EventBusDefaultBuffer
	case bufferSize > constants.EventBusMaxBuffer:
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{subs: make(map[EventType][]chan Event), buffer: bufferSize}
}

// Subscribe returns a channel receiving events of type t. On a closed bus
// the channel is already closed.
func (eb *EventBus) Subscribe(t EventType) <-chan Event {
	return eb.add(t)
}

// SubscribeAll returns a channel receiving every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.add(anyType)
}

func (eb *EventBus) add(key EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, eb.buffer)
	eb.subs[key] = append(eb.subs[key], ch)
	return ch
}

// Unsubscribe detaches ch from type t. The channel is left open.
func (eb *EventBus) Unsubscribe(t EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	list := eb.subs[t]
	for i, c := range list {
		if c == ch {
			eb.subs[t] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish hands ev to every matching subscriber that has room. A nil bus
// discards everything, so components can publish unconditionally.
func (eb *EventBus) Publish(ev Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.deliver(eb.subs[ev.Type()], ev)
	eb.deliver(eb.subs[anyType], ev)
}

func (eb *EventBus) deliver(chans []chan Event, ev Event) {
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			eb.dropped.Add(1)
		}
	}
}

// PublishLog publishes a LogEvent stamped with the current time.
func (eb *EventBus) PublishLog(level LogLevel, message, stage string, err error) {
	eb.Publish(&LogEvent{BaseEvent: stamp(EventLog), Level: level, Message: message, Stage: stage, Error: err})
}

// GetDroppedEventCount is the number of deliveries skipped because a
// subscriber's buffer was full.
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, list := range eb.subs {
		for _, ch := range list {
			close(ch)
		}
	}
}
