package turn

import (
	"strings"
	"time"
)

var trailingIncomplete = map[string]struct{}{
	"and": {}, "but": {}, "so": {}, "or": {}, "because": {}, "um": {}, "uh": {},
	"like": {}, "the": {}, "a": {}, "to": {}, "with": {}, "my": {}, "is": {},
	"aur": {}, "lekin": {}, "toh": {}, "ki": {},
}

// silenceTimeout picks how long to wait for more speech given what the
// caller has said so far.
func (c Config) silenceTimeout(text string) time.Duration {
	text = strings.TrimSpace(text)
	if text == "" {
		return c.SilenceTimeout
	}
	last, _ := utf8Last(text)
	switch last {
	case '?':
		return pick(c.QuestionTimeout, c.SilenceTimeout)
	case '.', '!', '।':
		return pick(c.CompleteTimeout, c.SilenceTimeout)
	}
	fields := strings.Fields(strings.ToLower(text))
	word := strings.Trim(fields[len(fields)-1], ",;:-")
	if _, ok := trailingIncomplete[word]; ok {
		return pick(c.IncompleteTimeout, c.SilenceTimeout)
	}
	return c.SilenceTimeout
}

func pick(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func utf8Last(s string) (rune, bool) {
	r := []rune(s)
	if len(r) == 0 {
		return 0, false
	}
	return r[len(r)-1], true
}
