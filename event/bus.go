package event

import "sync"

type ID uint64

type Handler func(Event)

type subscription struct {
	id      ID
	handler Handler
}

// Bus delivers events synchronously to its handlers in registration order.
// Registration may happen from any goroutine; Publish runs the handlers on
// the caller's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID ID
	subs   []subscription
}

func (b *Bus) Subscribe(h Handler) ID {
	if h == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Unsubscribe reports whether the id was registered.
func (b *Bus) Unsubscribe(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(e)
	}
}
