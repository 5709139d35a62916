package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionLoggerAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := InitLogger(Config{Level: "debug", Format: "json"}, &buf)
	NewSessionLogger(base, "supervisor", "s-1").Info("turn_started")
	out := buf.String()
	if !strings.Contains(out, `"component":"supervisor"`) || !strings.Contains(out, `"session_id":"s-1"`) {
		t.Fatalf("missing attributes in %q", out)
	}
}
