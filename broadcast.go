package main

import (
	"sync"
	"sync/atomic"
)

// Frame is one outbound message, serialized once and shared by every
// subscriber. Binary is nil for messages that only exist as JSON text.
type Frame struct {
	JSON   []byte
	Binary []byte
}

// Subscriber is one consumer of a Broadcaster. Its channel holds a bounded
// backlog; when the subscriber falls behind, the oldest buffered frames are
// discarded and the gap is counted, never blocking the publisher.
type Subscriber struct {
	C      chan Frame
	lagged uint64
}

// TakeLagged returns and resets the number of frames dropped since the last
// call.
func (s *Subscriber) TakeLagged() uint64 {
	return atomic.SwapUint64(&s.lagged, 0)
}

// Broadcaster fans frames out to any number of subscribers. Publish never
// blocks on a slow consumer.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	backlog int
	closed  bool
}

// NewBroadcaster creates a broadcaster whose subscribers each buffer up to
// backlog frames.
func NewBroadcaster(backlog int) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[*Subscriber]struct{}),
		backlog: backlog,
	}
}

// Subscribe registers a new consumer. Subscribing to a closed broadcaster
// returns a subscriber whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{C: make(chan Frame, b.backlog)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.C)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes a consumer and closes its channel. Safe to call once
// per subscriber, from the consumer side.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.C)
}

// Publish delivers a frame to every subscriber. A full subscriber loses its
// oldest buffered frame to make room; the drop is recorded on that
// subscriber only.
func (b *Broadcaster) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.C <- f:
			continue
		default:
		}
		// Backlog full: evict the oldest frame. Publish is the only sender
		// and holds the lock, so the retry cannot race another producer.
		select {
		case <-s.C:
			atomic.AddUint64(&s.lagged, 1)
		default:
		}
		select {
		case s.C <- f:
		default:
			atomic.AddUint64(&s.lagged, 1)
		}
	}
}

// Close shuts the broadcaster down and wakes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.C)
	}
}
