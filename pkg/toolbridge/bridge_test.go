package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/tools"
)

type echoArgs struct {
	Value string `json:"value"`
	Delay int    `json:"delay_ms,omitempty"`
}

type echoOut struct {
	Value string `json:"value"`
	Key   string `json:"key"`
}

func echoTool(name string, inFlight, peak *int32) tools.Tool {
	return tools.NewFunc(name, "echo", func(ctx context.Context, in echoArgs) (echoOut, error) {
		if inFlight != nil {
			n := atomic.AddInt32(inFlight, 1)
			defer atomic.AddInt32(inFlight, -1)
			for {
				p := atomic.LoadInt32(peak)
				if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
					break
				}
			}
		}
		if in.Delay > 0 {
			select {
			case <-time.After(time.Duration(in.Delay) * time.Millisecond):
			case <-ctx.Done():
				return echoOut{}, ctx.Err()
			}
		}
		if in.Value == "boom" {
			return echoOut{}, errors.New("backend unavailable")
		}
		return echoOut{Value: in.Value, Key: tools.IdempotencyKey(ctx)}, nil
	})
}

// stubbornTool ignores cancellation entirely.
type stubbornTool struct{ delay time.Duration }

func (s stubbornTool) Definition() tools.Definition {
	return tools.Definition{Name: "stubborn", Description: "never checks ctx"}
}

func (s stubbornTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	time.Sleep(s.delay)
	return json.RawMessage(`{}`), nil
}

func call(id, name, args string) tools.Invocation {
	return tools.Invocation{CallID: id, Name: name, Args: json.RawMessage(args)}
}

func TestExecutePartialFailure(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	b := New(tools.NewRegistry(echoTool("echo", nil, nil)), Config{CallTimeout: 50 * time.Millisecond, BatchTimeout: time.Second}, WithObserver(obs))

	start := time.Now()
	results := b.Execute(context.Background(), []tools.Invocation{
		call("c1", "echo", `{"value":"one"}`),
		call("c2", "echo", `{"value":"two","delay_ms":2000}`),
		call("c3", "echo", `{"value":"three"}`),
	})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("batch took %v; per-call timeout not enforced", elapsed)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if results[i].CallID != id {
			t.Fatalf("result %d: expected %s, got %s", i, id, results[i].CallID)
		}
	}
	if !results[0].OK() || !results[2].OK() {
		t.Fatalf("expected siblings to succeed: %+v", results)
	}
	if results[1].Err == nil || results[1].Err.Kind != tools.ErrorTimeout {
		t.Fatalf("expected timeout for c2, got %+v", results[1].Err)
	}
	var out echoOut
	if err := json.Unmarshal(results[2].Output, &out); err != nil || out.Value != "three" {
		t.Fatalf("unexpected output %s", results[2].Output)
	}
	if got := len(obs.Named(metrics.EventToolCall)); got != 3 {
		t.Fatalf("expected 3 tool metrics, got %d", got)
	}
}

func TestExecuteStructuredErrors(t *testing.T) {
	b := New(tools.NewRegistry(echoTool("echo", nil, nil)), Config{})
	results := b.Execute(context.Background(), []tools.Invocation{
		call("c1", "missing", `{}`),
		call("c2", "echo", `{"nope":"x"}`),
		call("c3", "echo", `{"value":"boom"}`),
		call("c4", "echo", `{"value":"fine"}`),
	})
	want := []tools.ErrorKind{tools.ErrorUnknownTool, tools.ErrorInvalidArgs, tools.ErrorExecution}
	for i, kind := range want {
		if results[i].Err == nil || results[i].Err.Kind != kind {
			t.Fatalf("result %d: expected %s, got %+v", i, kind, results[i].Err)
		}
	}
	if !results[3].OK() {
		t.Fatalf("expected last call to succeed: %+v", results[3].Err)
	}
}

func TestExecuteBatchTimeoutWithStubbornTool(t *testing.T) {
	reg := tools.NewRegistry(stubbornTool{delay: time.Second})
	b := New(reg, Config{CallTimeout: time.Second, BatchTimeout: 40 * time.Millisecond})
	start := time.Now()
	results := b.Execute(context.Background(), []tools.Invocation{call("c1", "stubborn", `{}`)})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("batch deadline not enforced")
	}
	if results[0].Err == nil || results[0].Err.Kind != tools.ErrorTimeout {
		t.Fatalf("expected timeout, got %+v", results[0])
	}
}

func TestExecuteCancelled(t *testing.T) {
	b := New(tools.NewRegistry(echoTool("echo", nil, nil)), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results := b.Execute(ctx, []tools.Invocation{call("c1", "echo", `{"value":"x","delay_ms":2000}`)})
	if results[0].Err == nil || results[0].Err.Kind != tools.ErrorCancelled {
		t.Fatalf("expected cancelled, got %+v", results[0])
	}
}

func TestExecuteRespectsParallelLimit(t *testing.T) {
	var inFlight, peak int32
	b := New(tools.NewRegistry(echoTool("echo", &inFlight, &peak)), Config{MaxParallel: 2})
	var calls []tools.Invocation
	for i := 0; i < 6; i++ {
		calls = append(calls, call(string(rune('a'+i)), "echo", `{"value":"v","delay_ms":20}`))
	}
	results := b.Execute(context.Background(), calls)
	for _, r := range results {
		if !r.OK() {
			t.Fatalf("unexpected failure %+v", r.Err)
		}
	}
	if atomic.LoadInt32(&peak) > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak)
	}
}

func TestIdempotencyKey(t *testing.T) {
	b := New(tools.NewRegistry(echoTool("echo", nil, nil)), Config{}, WithScope("sess-1"))
	results := b.Execute(context.Background(), []tools.Invocation{
		call("c1", "echo", `{"value":"x"}`),
		{CallID: "c2", Name: "echo", Args: json.RawMessage(`{"value":"y"}`), IdempotencyKey: "fixed"},
	})
	var first, second echoOut
	_ = json.Unmarshal(results[0].Output, &first)
	_ = json.Unmarshal(results[1].Output, &second)
	if first.Key != "sess-1:c1" || second.Key != "fixed" {
		t.Fatalf("unexpected keys %q %q", first.Key, second.Key)
	}
}
