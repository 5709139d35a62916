// Package bus provides the bounded, typed queues that connect pipeline
// stages. Every wait is a channel select; nothing polls.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("bus: queue closed")

// OverflowPolicy decides what Push does when a queue is full.
type OverflowPolicy int

const (
	// BlockProducer suspends the producer until there is room. Used for
	// text and control traffic that must not lose content.
	BlockProducer OverflowPolicy = iota
	// DropOldest evicts the oldest queued element. Used for audio, where
	// bounded staleness beats unbounded latency.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	default:
		return "block_producer"
	}
}

type Stats struct {
	Name    string
	Policy  string
	Len     int
	Cap     int
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Closed  bool
}

// Queue is a bounded single-producer/single-consumer queue.
type Queue[T any] struct {
	name   string
	policy OverflowPolicy
	items  chan T
	closed chan struct{}
	once   sync.Once
	pushMu sync.Mutex

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

func NewQueue[T any](name string, capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		name:   name,
		policy: policy,
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

func (q *Queue[T]) Name() string { return q.name }

// Push enqueues v according to the queue's overflow policy. It returns
// ErrClosed once the queue is closed and the context error if ctx ends
// while a BlockProducer push is waiting.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	if q.isClosed() {
		return ErrClosed
	}
	if q.policy == DropOldest {
		return q.pushDropOldest(v)
	}
	select {
	case q.items <- v:
		q.pushed.Add(1)
		return nil
	default:
	}
	select {
	case q.items <- v:
		q.pushed.Add(1)
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues without waiting. It reports false when a BlockProducer
// queue is full.
func (q *Queue[T]) TryPush(v T) (bool, error) {
	if q.isClosed() {
		return false, ErrClosed
	}
	if q.policy == DropOldest {
		return true, q.pushDropOldest(v)
	}
	select {
	case q.items <- v:
		q.pushed.Add(1)
		return true, nil
	default:
		return false, nil
	}
}

func (q *Queue[T]) pushDropOldest(v T) error {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()
	for {
		if q.isClosed() {
			return ErrClosed
		}
		select {
		case q.items <- v:
			q.pushed.Add(1)
			return nil
		default:
		}
		select {
		case <-q.items:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop suspends until an element is available, the queue is closed, or ctx
// ends. Elements queued before Close are still delivered; after they are
// drained Pop returns ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.items:
		q.popped.Add(1)
		return v, nil
	default:
	}
	select {
	case v := <-q.items:
		q.popped.Add(1)
		return v, nil
	case <-q.closed:
		select {
		case v := <-q.items:
			q.popped.Add(1)
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close marks end-of-stream. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Done is closed when Close has been called.
func (q *Queue[T]) Done() <-chan struct{} { return q.closed }

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:    q.name,
		Policy:  q.policy.String(),
		Len:     len(q.items),
		Cap:     cap(q.items),
		Pushed:  q.pushed.Load(),
		Popped:  q.popped.Load(),
		Dropped: q.dropped.Load(),
		Closed:  q.isClosed(),
	}
}

func (q *Queue[T]) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
