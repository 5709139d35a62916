package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

type PriorityStats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
}

// PriorityQueue has a high and a low lane. Pop always drains the high lane
// first; both lanes block the producer when full.
type PriorityQueue[T any] struct {
	high   chan T
	low    chan T
	closed chan struct{}
	once   sync.Once

	highPush atomic.Int64
	lowPush  atomic.Int64
	highPop  atomic.Int64
	lowPop   atomic.Int64
}

func NewPriorityQueue[T any](highCap, lowCap int) *PriorityQueue[T] {
	if highCap <= 0 {
		highCap = 1
	}
	if lowCap <= 0 {
		lowCap = 1
	}
	return &PriorityQueue[T]{
		high:   make(chan T, highCap),
		low:    make(chan T, lowCap),
		closed: make(chan struct{}),
	}
}

func (q *PriorityQueue[T]) PushHigh(ctx context.Context, v T) error {
	return q.push(ctx, q.high, &q.highPush, v)
}

func (q *PriorityQueue[T]) PushLow(ctx context.Context, v T) error {
	return q.push(ctx, q.low, &q.lowPush, v)
}

func (q *PriorityQueue[T]) push(ctx context.Context, lane chan T, counter *atomic.Int64, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case lane <- v:
		counter.Add(1)
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next element, preferring the high lane. After Close the
// remaining elements are drained before ErrClosed is returned.
func (q *PriorityQueue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case v := <-q.high:
			q.highPop.Add(1)
			return v, nil
		default:
		}
		select {
		case v := <-q.low:
			q.lowPop.Add(1)
			return v, nil
		default:
		}
		select {
		case v := <-q.high:
			q.highPop.Add(1)
			return v, nil
		case v := <-q.low:
			// a high item may have raced in; it is served on the next Pop
			q.lowPop.Add(1)
			return v, nil
		case <-q.closed:
			if len(q.high) == 0 && len(q.low) == 0 {
				return zero, ErrClosed
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *PriorityQueue[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *PriorityQueue[T]) Stats() PriorityStats {
	return PriorityStats{
		HighPush: q.highPush.Load(),
		LowPush:  q.lowPush.Load(),
		HighPop:  q.highPop.Load(),
		LowPop:   q.lowPop.Load(),
	}
}
