// Package eventbus is the typed publish/subscribe mechanism components use
// to observe each other's state transitions (ChromaAnnounced, Attached,
// Rejected, ...) without a direct dependency between producer and consumer.
//
// Structurally this generalizes the buffered-channel fan-out the teacher's
// MainBus uses (one channel per event kind) to Go generics: one Bus[T] per
// concrete event type, composed into a Hub. Unlike the teacher's bus, a slow
// subscriber never blocks the publisher — it is dropped and told how much it
// missed via Lagged(n), the semantics spec.md §4.6 requires.
package eventbus

import "sync"

// Lagged is delivered to a subscriber in place of the events it missed
// because its channel was full. N is how many events were dropped.
type Lagged struct {
	N int
}

// Envelope is what a subscriber actually receives: either a real event or a
// Lagged marker.
type Envelope[T any] struct {
	Event  T
	Lagged *Lagged
}

const defaultBufferSize = 256

// Bus is a single-event-type publish/subscribe channel set.
type Bus[T any] struct {
	mu         sync.Mutex
	bufferSize int
	subs       map[int]chan Envelope[T]
	nextID     int
}

// NewBus constructs a Bus whose subscriber channels have the given buffer
// size; bufferSize <= 0 uses defaultBufferSize.
func NewBus[T any](bufferSize int) *Bus[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus[T]{
		bufferSize: bufferSize,
		subs:       make(map[int]chan Envelope[T]),
	}
}

// Subscription is a live subscriber handle; call Unsubscribe when done.
type Subscription[T any] struct {
	bus *Bus[T]
	id  int
	ch  chan Envelope[T]
}

// C is the channel to receive events and Lagged markers from.
func (s *Subscription[T]) C() <-chan Envelope[T] { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new subscriber.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Envelope[T], b.bufferSize)
	b.subs[id] = ch
	return &Subscription[T]{bus: b, id: id, ch: ch}
}

// Publish fans event out to every current subscriber without blocking. For a
// subscriber whose channel is full, the oldest queued entry is drained, the
// new event is discarded, and a Lagged marker counting both is queued in
// their place.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- Envelope[T]{Event: event}:
		default:
			b.dropAndMark(id, ch)
		}
	}
}

// dropAndMark drains the oldest queued entry (if the reader hasn't caught up)
// and pushes a Lagged marker whose N counts the event being published plus
// whatever the drained entry stood for (one event, or an earlier marker's N).
// Called with b.mu held.
func (b *Bus[T]) dropAndMark(id int, ch chan Envelope[T]) {
	dropped := 1 // the event being published
	select {
	case env := <-ch:
		if env.Lagged != nil {
			dropped += env.Lagged.N
		} else {
			dropped++
		}
	default:
	}
	select {
	case ch <- Envelope[T]{Lagged: &Lagged{N: dropped}}:
	default:
	}
}

// Close unsubscribes and closes every live subscriber channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
