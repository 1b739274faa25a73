// Package event implements the listener lists used between layers.
//
// Listeners are copied under the lock and invoked after it is released, so a
// listener may subscribe, unsubscribe or publish again without deadlocking.
package event

import "sync"

// Broadcaster fans values of type T out to subscribed listeners.
// The zero value is ready to use.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(T)
	order     []uint64
}

// Subscribe registers fn and returns a function that removes it.
// Listeners are invoked in subscription order.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[uint64]func(T))
	}
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers v to a snapshot of the current listeners.
func (b *Broadcaster[T]) Publish(v T) {
	for _, fn := range b.snapshot() {
		fn(v)
	}
}

// PublishAll delivers each value in vs, in order, to one snapshot of the
// listeners taken before the first delivery.
func (b *Broadcaster[T]) PublishAll(vs []T) {
	if len(vs) == 0 {
		return
	}
	fns := b.snapshot()
	for _, v := range vs {
		for _, fn := range fns {
			fn(v)
		}
	}
}

func (b *Broadcaster[T]) snapshot() []func(T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fns := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	return fns
}

// Len returns the number of subscribed listeners.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
