// Package eventbus is a small in-process fanout connecting the broadcast
// engine to operational consumers (operator notices, logging).
package eventbus

import "sync"

// Bus fans published values out to all current subscribers.
//
// Publish never blocks: each subscriber gets a buffered channel and a
// slow subscriber drops values rather than stalling the publisher.
type Bus[T any] interface {
	Publish(v T)
	Subscribe(buffer int) (ch <-chan T, unsubscribe func())
}

// New returns a fanout bus. It owns no background goroutines.
func New[T any]() Bus[T] {
	return &fanout[T]{subs: map[uint64]chan T{}}
}

type fanout[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	next uint64
}

// Publish delivers v to every subscriber with buffer room. Sends happen
// under the read lock and unsubscribe closes under the write lock, so a
// channel is never closed mid-send.
func (b *fanout[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (b *fanout[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
