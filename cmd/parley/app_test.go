package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/parley/pkg/config"
)

func TestBuildToolsFiltersByName(t *testing.T) {
	reg, err := buildTools([]string{"get_interest_rates", " capture_lead "}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected two tools, got %d", len(defs))
	}
	if _, ok := reg.Get("compare_lenders"); ok {
		t.Fatalf("expected compare_lenders to be left out")
	}

	all, err := buildTools(nil, nil)
	if err != nil || len(all.Definitions()) != 5 {
		t.Fatalf("expected every loan tool, got %v", err)
	}
	if _, err := buildTools([]string{"wire_money"}, nil); err == nil {
		t.Fatalf("expected unknown tool error")
	}
}

func TestAppServesAndDrains(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.DrainTimeout = time.Second
	cfg.Observability.ArtifactsDir = t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.run(ctx) }()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + a.transport.Addr() + cfg.Server.MetricsPath)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime metrics on the metrics path")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
