package events

import "sync"

// Bus fans events out to every listener subscribed at the time of Publish.
// Listeners run synchronously in subscription order, so events from one
// publishing goroutine reach each listener in emission order. There is no
// replay for late subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []subscription
}

type subscription struct {
	id uint64
	fn Listener
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn and returns a func that removes it. The returned
// func is safe to call more than once.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { b.remove(id) }) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.listeners {
		if s.id == id {
			// copy-on-write so snapshots held by Publish stay valid
			next := make([]subscription, 0, len(b.listeners)-1)
			next = append(next, b.listeners[:i]...)
			next = append(next, b.listeners[i+1:]...)
			b.listeners = next
			return
		}
	}
}

// Publish delivers e to a snapshot of the current listeners.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	snap := b.listeners
	b.mu.RUnlock()
	for _, s := range snap {
		s.fn(e)
	}
}

// Len returns the number of current listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
