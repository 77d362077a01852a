package action

import "sync"

// Change describes one state replacement of an event.
type Change struct {
	Event *Event
	Prev  State
	Next  State
}

// Observer receives changes synchronously, after the replacement is visible
// through the event. Observers must not mutate the event.
type Observer func(Change)

// Bus is a typed publish/subscribe channel for event changes. Delivery is
// synchronous and in subscription order.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

type subscription struct {
	id uint64
	fn Observer
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (b *Bus) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers c to every subscriber registered at the time of the call.
func (b *Bus) Publish(c Change) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(c)
	}
}
