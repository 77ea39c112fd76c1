package stream

import "sync"

// DefaultBuffer is the per-subscriber channel capacity used when
// Subscribe is called with a non-positive size.
const DefaultBuffer = 64

// Broadcaster fans values out to any number of independent subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the value.
// The zero value is ready to use.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

// Subscribe registers a new subscriber and returns its receive channel and
// a cancel function. Calling cancel closes the channel; it is safe to call
// more than once.
func (b *Broadcaster[T]) Subscribe(size int) (<-chan T, func()) {
	if size <= 0 {
		size = DefaultBuffer
	}
	ch := make(chan T, size)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = make(map[uint64]chan T)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber with buffer space and returns the
// number of subscribers that received it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sent := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			sent++
		default:
			// Subscriber buffer full, skip
		}
	}
	return sent
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel and later publishes are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
