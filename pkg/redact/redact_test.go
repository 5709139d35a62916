package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	r := New(false)
	in := "email a@b.com and phone +91 98765 43210"
	if got := r.Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	r := New(true)
	in := "email a@b.com, phone +91 98765 43210, pan ABCDE1234F"
	got := r.Text(in)
	for _, want := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_ID]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output %q", want, got)
		}
	}
}

func TestNilRedactorPassesThrough(t *testing.T) {
	var r *Redactor
	if got := r.Text("a@b.com"); got != "a@b.com" {
		t.Fatalf("nil redactor should not modify text, got %q", got)
	}
}
