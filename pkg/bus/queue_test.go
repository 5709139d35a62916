package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestQueueDropOldestKeepsNewest(t *testing.T) {
	q := NewQueue[int]("audio_in", 3, DropOldest)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for _, want := range []int{3, 4, 5} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if q.Stats().Dropped != 2 {
		t.Fatalf("expected 2 drops, got %d", q.Stats().Dropped)
	}
}

func TestQueueBlockProducerWaitsForRoom(t *testing.T) {
	q := NewQueue[string]("text", 1, BlockProducer)
	ctx := context.Background()
	if err := q.Push(ctx, "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, "b") }()

	select {
	case <-done:
		t.Fatalf("expected producer to block while queue is full")
	case <-time.After(20 * time.Millisecond):
	}
	if v, _ := q.Pop(ctx); v != "a" {
		t.Fatalf("expected a, got %q", v)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked push: %v", err)
	}
	if v, _ := q.Pop(ctx); v != "b" {
		t.Fatalf("expected b, got %q", v)
	}
}

func TestQueueBlockProducerHonorsContext(t *testing.T) {
	q := NewQueue[int]("control", 1, BlockProducer)
	_ = q.Push(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueueCloseDrainsThenSignalsEnd(t *testing.T) {
	q := NewQueue[int]("text", 4, BlockProducer)
	ctx := context.Background()
	_ = q.Push(ctx, 1)
	_ = q.Push(ctx, 2)
	q.Close()
	q.Close()

	if err := q.Push(ctx, 3); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on push after close, got %v", err)
	}
	for _, want := range []int{1, 2} {
		got, err := q.Pop(ctx)
		if err != nil || got != want {
			t.Fatalf("expected %d, got %d (%v)", want, got, err)
		}
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueuePopWakesOnClose(t *testing.T) {
	q := NewQueue[int]("text", 1, BlockProducer)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake on close")
	}
}

func TestQueuePreservesOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOf(rapid.Int()).Draw(t, "values")
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		q := NewQueue[int]("prop", capacity, BlockProducer)
		ctx := context.Background()
		go func() {
			for _, v := range values {
				if err := q.Push(ctx, v); err != nil {
					return
				}
			}
			q.Close()
		}()
		var got []int
		for {
			v, err := q.Pop(ctx)
			if errors.Is(err, ErrClosed) {
				break
			}
			if err != nil {
				t.Fatalf("pop: %v", err)
			}
			got = append(got, v)
		}
		if len(got) != len(values) {
			t.Fatalf("expected %d values, got %d", len(values), len(got))
		}
		for i := range values {
			if got[i] != values[i] {
				t.Fatalf("order mismatch at %d: %d != %d", i, got[i], values[i])
			}
		}
	})
}

func TestPriorityQueueServesHighFirst(t *testing.T) {
	q := NewPriorityQueue[string](2, 2)
	ctx := context.Background()
	_ = q.PushLow(ctx, "utterance")
	_ = q.PushHigh(ctx, "barge_in")
	first, _ := q.Pop(ctx)
	second, _ := q.Pop(ctx)
	if first != "barge_in" || second != "utterance" {
		t.Fatalf("unexpected order %q, %q", first, second)
	}
	stats := q.Stats()
	if stats.HighPop != 1 || stats.LowPop != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPriorityQueueCloseAfterDrain(t *testing.T) {
	q := NewPriorityQueue[int](1, 1)
	ctx := context.Background()
	_ = q.PushLow(ctx, 7)
	q.Close()
	if v, err := q.Pop(ctx); err != nil || v != 7 {
		t.Fatalf("expected queued value before close, got %d (%v)", v, err)
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
