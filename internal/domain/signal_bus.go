package domain

import (
	"context"
	"sync"
)

type subscriber struct {
	ch   chan PipelineSignal
	done chan struct{}
	once sync.Once
}

// SignalBus раздаёт сигналы подписчикам в порядке публикации.
// Publish и Close вызываются только из цикла контроллера.
type SignalBus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	next   int
	buffer int
	closed bool
}

func NewSignalBus(buffer int) *SignalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &SignalBus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns a channel of signals and a func to stop receiving.
// The channel is closed when the bus closes.
func (b *SignalBus) Subscribe() (<-chan PipelineSignal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{
		ch:   make(chan PipelineSignal, b.buffer),
		done: make(chan struct{}),
	}
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = s

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
	}
}

// Publish delivers sig to every subscriber, waiting on slow ones until ctx ends.
func (b *SignalBus) Publish(ctx context.Context, sig PipelineSignal) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- sig:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

func (b *SignalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
