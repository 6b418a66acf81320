package events

import (
	"sync"
	"sync/atomic"

	"rapidoutput/pkg/models"
)

// Handler receives events synchronously on the emitting goroutine
type Handler func(models.Event)

// Bus fans output events out to handlers and channel subscribers
type Bus struct {
	handlers []handlerEntry
	nextID   uint64
	mu       sync.RWMutex

	// Channels for pub/sub
	subscribers []chan models.Event
	subMu       sync.RWMutex

	dropped atomic.Uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// New creates an empty event bus
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns a function removing it.
// Handlers run on the goroutine that emits, which may be a packet producer,
// so they must not block.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				break
			}
		}
	}
}

// SubscribeChan creates a buffered subscription.
// Returns a channel that will receive events and a cleanup function
func (b *Bus) SubscribeChan(bufferSize int) (<-chan models.Event, func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	ch := make(chan models.Event, bufferSize)
	b.subscribers = append(b.subscribers, ch)

	cleanup := func() {
		b.unsubscribe(ch)
	}

	return ch, cleanup
}

func (b *Bus) unsubscribe(ch chan models.Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for i, subCh := range b.subscribers {
		if subCh == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Emit delivers an event to every handler, then to every channel subscriber
// without blocking
func (b *Bus) Emit(ev models.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h.fn)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel is full, drop event
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped on full channels
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
