package libim

import (
	"sync"
)

// EventType names session lifecycle events.
type EventType uint8

const (
	EventConnect EventType = iota + 1
	EventClose
	EventReconnect
	// EventMessage keys inbound domain events on the subscriber emitter.
	EventMessage
)

func (e EventType) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventClose:
		return "close"
	case EventReconnect:
		return "reconnect"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

type callback[T any] func(T)

type listener[T any] struct {
	id uint64
	fn callback[T]
}

// EventEmitterCallback maps events (of type K) to callbacks receiving values of type V.
// Callbacks run synchronously, in registration order, with no lock held: a callback may register
// or unregister listeners, and the change takes effect from the next Emit.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listener[V]
	nextID    uint64
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listener[V]),
	}
}

// On registers a new listener for the given event and returns a function that removes it.
// The returned function is safe to call more than once.
func (e *EventEmitterCallback[K, V]) On(event K, fn callback[V]) (off func()) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener[V]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.off(event, id) })
	}
}

func (e *EventEmitterCallback[K, V]) off(event K, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	current := e.listeners[event]
	next := make([]listener[V], 0, len(current))
	for _, l := range current {
		if l.id != id {
			next = append(next, l)
		}
	}
	if len(next) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = next
}

// Emit invokes every listener registered for the event when Emit was called.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	// slices are replaced, never mutated in place, so the snapshot stays valid after unlocking
	listeners := e.listeners[event]
	e.lock.RUnlock()

	for _, l := range listeners {
		l.fn(data)
	}
}

// Len returns the number of listeners registered for the event.
func (e *EventEmitterCallback[K, V]) Len(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Close removes all listeners.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listener[V])
}
