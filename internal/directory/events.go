package directory

import (
	"slices"
	"sync"
)

// Event is broadcast when a lookup succeeds.
type Event struct {
	Kind string
	User *User
}

// Observer is called synchronously for every published event.
type Observer func(Event)

// Bus fans events out to its observers. The zero Bus is ready to use.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	observers []subscription
}

type subscription struct {
	id int
	fn Observer
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn Observer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.observers = slices.DeleteFunc(b.observers, func(s subscription) bool { return s.id == id })
	}
}

// Publish delivers ev to every observer in subscription order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	observers := slices.Clone(b.observers)
	b.mu.RUnlock()

	for _, s := range observers {
		s.fn(ev)
	}
}
