package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeDrainer struct {
	block  bool
	called chan struct{}
}

func (d *fakeDrainer) Drain(ctx context.Context) error {
	close(d.called)
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func TestRunDrainsOnCancel(t *testing.T) {
	d := &fakeDrainer{called: make(chan struct{})}
	stopped := false
	var out bytes.Buffer
	r := NewLifecycleRunner(d, Hooks{
		OnStop: func(context.Context) error { stopped = true; return nil },
	}, time.Second, WithBanner(&out))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never started, state %s", r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case <-d.called:
	default:
		t.Fatalf("expected drain")
	}
	if !stopped || r.State() != StateStopped {
		t.Fatalf("expected stop hook and stopped state, got %s", r.State())
	}
	if !strings.Contains(out.String(), "Version: "+Version) {
		t.Fatalf("expected banner, got %q", out.String())
	}
}

func TestDrainTimeout(t *testing.T) {
	d := &fakeDrainer{block: true, called: make(chan struct{})}
	r := NewLifecycleRunner(d, Hooks{}, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestStartErrorAborts(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{
		OnStart: func(context.Context) error { return errors.New("port in use") },
	}, time.Second)
	if err := r.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "port in use") {
		t.Fatalf("expected start error, got %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to be rejected")
	}
}
