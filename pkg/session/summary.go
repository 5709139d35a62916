package session

import (
	"strings"
	"time"

	"github.com/harunnryd/parley/pkg/adapters/memory"
	"github.com/harunnryd/parley/pkg/conversation"
)

type SummaryConfig struct {
	// MaxChars bounds the summary in characters, not bytes.
	MaxChars int `mapstructure:"max_chars"`
	// ClipChars bounds each quoted line.
	ClipChars int `mapstructure:"clip_chars"`
}

func (c SummaryConfig) withDefaults() SummaryConfig {
	if c.MaxChars <= 0 {
		c.MaxChars = 600
	}
	if c.ClipChars <= 0 {
		c.ClipChars = 120
	}
	return c
}

// summarize condenses a finished call into what the next call should know.
func summarize(cfg SummaryConfig, customerID string, stage conversation.Stage, c conversation.Context) memory.Summary {
	cfg = cfg.withDefaults()
	lastUser, lastAgent := "", ""
	for i := len(c.History) - 1; i >= 0; i-- {
		m := c.History[i]
		if lastUser == "" && m.Role == conversation.RoleUser {
			lastUser = m.Text
		}
		if lastAgent == "" && m.Role == conversation.RoleAgent {
			lastAgent = m.Text
		}
		if lastUser != "" && lastAgent != "" {
			break
		}
	}
	outcome := string(c.Outcome)
	if outcome == "" {
		outcome = string(conversation.OutcomeAbandoned)
	}
	text := composeSummary(c.Language, stage.String(), outcome, clip(lastUser, cfg.ClipChars), clip(lastAgent, cfg.ClipChars))
	if r := []rune(text); len(r) > cfg.MaxChars {
		text = string(r[:cfg.MaxChars])
	}
	return memory.Summary{
		CustomerID: customerID,
		Text:       text,
		Outcome:    outcome,
		Slots:      c.SlotValues(),
		Turns:      c.TurnCount,
		UpdatedAt:  time.Now(),
	}
}

func composeSummary(lang, stage, outcome, lastUser, lastAgent string) string {
	if strings.HasPrefix(strings.ToLower(lang), "hi") {
		return "Saaransh: call " + outcome + " (" + stage + "). Customer ne kaha \"" + lastUser + "\". Agent ne jawab diya \"" + lastAgent + "\"."
	}
	return "Summary: call " + outcome + " (" + stage + "). Customer said \"" + lastUser + "\". Agent replied \"" + lastAgent + "\"."
}

func clip(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "-"
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
