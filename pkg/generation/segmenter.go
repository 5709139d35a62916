package generation

import (
	"strings"
	"unicode"

	"github.com/harunnryd/parley/pkg/frames"
)

type SegmenterConfig struct {
	// MinFirstChars holds back a short first sentence so the first
	// synthesis request is worth its round trip. Flush ignores it.
	MinFirstChars int `mapstructure:"min_first_chars"`
	// MaxChars forces a split when no sentence boundary shows up.
	MaxChars      int      `mapstructure:"max_chars"`
	Abbreviations []string `mapstructure:"abbreviations"`
}

var defaultAbbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "sr.", "jr.", "st.", "vs.", "etc.",
	"e.g.", "i.e.", "rs.", "no.", "approx.", "ltd.", "pvt.",
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.MinFirstChars <= 0 {
		c.MinFirstChars = 15
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 500
	}
	if len(c.Abbreviations) == 0 {
		c.Abbreviations = defaultAbbreviations
	}
	return c
}

// Segmenter cuts a token stream into sentences for synthesis. A boundary
// is only confirmed once the character after it has arrived, so the same
// text yields the same sentences however it was chunked.
type Segmenter struct {
	cfg    SegmenterConfig
	abbrev map[string]struct{}
	turnID string
	buf    []rune
	next   int
}

func NewSegmenter(turnID string, cfg SegmenterConfig) *Segmenter {
	cfg = cfg.withDefaults()
	abbrev := make(map[string]struct{}, len(cfg.Abbreviations))
	for _, a := range cfg.Abbreviations {
		abbrev[strings.ToLower(a)] = struct{}{}
	}
	return &Segmenter{cfg: cfg, abbrev: abbrev, turnID: turnID}
}

// Push appends text and returns every sentence it completed.
func (s *Segmenter) Push(text string) []frames.SentenceUnit {
	s.buf = append(s.buf, []rune(text)...)
	var out []frames.SentenceUnit
	from := 0
	for {
		end, ok := s.boundary(from)
		if !ok {
			break
		}
		sentence := strings.TrimSpace(string(s.buf[:end]))
		if sentence == "" {
			s.consume(end)
			from = 0
			continue
		}
		if s.next == 0 && len([]rune(sentence)) < s.cfg.MinFirstChars {
			from = end
			continue
		}
		out = append(out, s.Insert(sentence))
		s.consume(end)
		from = 0
	}
	for len(s.buf) > s.cfg.MaxChars {
		cut := s.forcedCut()
		if sentence := strings.TrimSpace(string(s.buf[:cut])); sentence != "" {
			out = append(out, s.Insert(sentence))
		}
		s.consume(cut)
	}
	return out
}

// Flush returns whatever is buffered as a final sentence.
func (s *Segmenter) Flush() []frames.SentenceUnit {
	sentence := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if sentence == "" {
		return nil
	}
	return []frames.SentenceUnit{s.Insert(sentence)}
}

// Insert emits text as the next sentence without touching the buffer.
func (s *Segmenter) Insert(text string) frames.SentenceUnit {
	u := frames.SentenceUnit{TurnID: s.turnID, Index: s.next, Text: text}
	s.next++
	return u
}

// Emitted is the number of sentences handed out so far.
func (s *Segmenter) Emitted() int { return s.next }

// Pending is the buffered text not yet part of a sentence.
func (s *Segmenter) Pending() string { return string(s.buf) }

func (s *Segmenter) consume(n int) {
	rest := s.buf[n:]
	for len(rest) > 0 && unicode.IsSpace(rest[0]) {
		rest = rest[1:]
	}
	s.buf = append(s.buf[:0], rest...)
}

// boundary finds the end (exclusive) of the first sentence at or after from.
func (s *Segmenter) boundary(from int) (int, bool) {
	buf := s.buf
	for i := from; i < len(buf); i++ {
		r := buf[i]
		if r == '\n' {
			return i + 1, true
		}
		if !isTerminator(r) {
			continue
		}
		if r == '.' {
			if i > 0 && i+1 < len(buf) && unicode.IsDigit(buf[i-1]) && unicode.IsDigit(buf[i+1]) {
				continue
			}
			if s.isAbbreviation(i) {
				continue
			}
		}
		j := i + 1
		for j < len(buf) && isTerminator(buf[j]) {
			j++
		}
		for j < len(buf) && isCloser(buf[j]) {
			j++
		}
		if j >= len(buf) {
			return 0, false
		}
		if !unicode.IsSpace(buf[j]) {
			i = j - 1
			continue
		}
		return j, true
	}
	return 0, false
}

func (s *Segmenter) isAbbreviation(dot int) bool {
	start := dot
	for start > 0 && !unicode.IsSpace(s.buf[start-1]) && !isOpener(s.buf[start-1]) {
		start--
	}
	word := strings.ToLower(string(s.buf[start : dot+1]))
	_, ok := s.abbrev[word]
	return ok
}

// forcedCut splits an over-long buffer at the last clause mark, else the
// last space, else hard at MaxChars.
func (s *Segmenter) forcedCut() int {
	limit := s.cfg.MaxChars
	for i := limit - 1; i > 0; i-- {
		switch s.buf[i] {
		case ',', ';', ':':
			return i + 1
		}
	}
	for i := limit - 1; i > 0; i-- {
		if unicode.IsSpace(s.buf[i]) {
			return i
		}
	}
	return limit
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '।', '॥':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', ']', '}', '»':
		return true
	}
	return false
}

func isOpener(r rune) bool {
	switch r {
	case '"', '\'', '“', '‘', '(', '[', '{', '«':
		return true
	}
	return false
}
