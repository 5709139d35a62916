package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	panRe   = regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)
)

// Redactor masks personal data in transcripts before they reach logs.
type Redactor struct {
	enabled atomic.Bool
}

func New(enabled bool) *Redactor {
	r := &Redactor{}
	r.enabled.Store(enabled)
	return r
}

// SetEnabled toggles PII redaction.
func (r *Redactor) SetEnabled(v bool) {
	r.enabled.Store(v)
}

// Enabled returns true when redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled.Load()
}

// Text redacts emails, phone numbers and tax ids when enabled.
func (r *Redactor) Text(in string) string {
	if !r.Enabled() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = panRe.ReplaceAllString(out, "[REDACTED_ID]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
