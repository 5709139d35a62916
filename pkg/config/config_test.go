package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.DrainTimeout != 20*time.Second {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Provider != "mock" || cfg.Retrieval.Provider != "keyword" {
		t.Fatalf("unexpected provider defaults %+v", cfg.Providers)
	}
	if cfg.Session.Turn.SilenceTimeout != 700*time.Millisecond || cfg.Session.Turn.Strategy != "aggressive" {
		t.Fatalf("unexpected turn defaults %+v", cfg.Session.Turn)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	path := writeConfig(t, `
providers:
  llm:
    provider: openai
    settings:
      api_key: ${TEST_OPENAI_KEY}
      model: gpt-4o-mini
session:
  language: hi
  turn:
    strategy: polite
    silence_timeout: 900ms
  generation:
    system_prompt: "You are calling for ${TEST_BRAND}."
`)
	t.Setenv("TEST_BRAND", "Kotak")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Providers.LLM.Settings["api_key"]; got != "sk-test" {
		t.Fatalf("expected expanded api key, got %v", got)
	}
	if cfg.Session.Generation.SystemPrompt != "You are calling for Kotak." {
		t.Fatalf("expected expanded prompt, got %q", cfg.Session.Generation.SystemPrompt)
	}
	if cfg.Session.Language != "hi" || cfg.Session.Turn.Strategy != "polite" {
		t.Fatalf("unexpected session %+v", cfg.Session)
	}
	if cfg.Session.Turn.SilenceTimeout != 900*time.Millisecond {
		t.Fatalf("expected 900ms silence timeout, got %v", cfg.Session.Turn.SilenceTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("PARLEY_SERVER_ADDR", ":9100")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("expected env override, got %s", cfg.Server.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "session:\n  turn:\n    strategy: eager\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "strategy") {
		t.Fatalf("expected strategy error, got %v", err)
	}
	path = writeConfig(t, "providers:\n  tts:\n    provider: \"\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "providers.tts.provider") {
		t.Fatalf("expected tts provider error, got %v", err)
	}
}

func TestConversationRules(t *testing.T) {
	cfg := ConversationConfig{Phrases: map[string]map[string]string{"en": {"apology": "So sorry."}}}
	rules := cfg.Rules()
	if rules == nil || len(rules.Table()) == 0 {
		t.Fatalf("expected a populated rule table")
	}
}
