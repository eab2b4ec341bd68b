package engine

import (
	"sync"
	"time"
)

type EventType int

// Event is one notification from the task queue, the elevator navigator,
// the door monitor or a device status report.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// EventBus fans engine events out to the wiring in this package and to the
// SSE hub. Delivery is synchronous on the emitting goroutine; the queue,
// navigator and door monitor emit only after releasing their locks, so a
// listener may call straight back into them.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[EventType][]func(Event)
}

func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[EventType][]func(Event))}
}

// SubscribeTypes adds fn as a listener for each of types.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, t := range types {
		eb.listeners[t] = append(eb.listeners[t], fn)
	}
}

// Emit stamps evt if needed and calls its listeners in subscription order.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	fns := eb.listeners[evt.Type]
	eb.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}
