package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/harunnryd/parley/pkg/frames"
)

type intentSpec struct {
	name     string
	examples []string
	keywords map[string]float64
}

// intentSpecs is ordered: on equal scores the earlier intent wins.
var intentSpecs = []intentSpec{
	{name: "refusal",
		examples: []string{"no", "nahi", "no thanks", "not interested", "do not call me"},
		keywords: map[string]float64{"not interested": 0.95, "do not call": 0.95, "stop calling": 0.95, "no thanks": 0.9}},
	{name: "follow_up",
		examples: []string{"call me later", "call me tomorrow", "not now", "baad mein", "another time"},
		keywords: map[string]float64{"call me later": 0.95, "call back": 0.9, "call me tomorrow": 0.95, "baad mein": 0.9, "not now": 0.85, "another time": 0.85}},
	{name: "escalate",
		examples: []string{"let me talk to a human", "i want to speak to your manager"},
		keywords: map[string]float64{"human": 0.8, "real person": 0.9, "manager": 0.8, "supervisor": 0.8, "talk to someone": 0.85}},
	{name: "switch_lender",
		examples: []string{"i want to switch from muthoot", "transfer my loan", "can i move my gold loan"},
		keywords: map[string]float64{"switch": 0.8, "transfer my loan": 0.9, "move my loan": 0.9, "balance transfer": 0.9}},
	{name: "objection",
		examples: []string{"i am not sure", "what if something goes wrong", "is it safe", "mujhe dar lagta hai"},
		keywords: nil},
	{name: "interest_rate",
		examples: []string{"what is the interest rate", "interest rate kitna hai", "rate of interest"},
		keywords: map[string]float64{"interest rate": 0.85, "rate of interest": 0.85, "byaj": 0.8, "interest": 0.7}},
	{name: "eligibility_check",
		examples: []string{"am i eligible", "can i get a loan", "kitna loan milega"},
		keywords: map[string]float64{"eligible": 0.85, "eligibility": 0.85, "qualify": 0.8, "how much loan": 0.85}},
	{name: "documentation",
		examples: []string{"what documents are needed", "kya documents chahiye", "paper work"},
		keywords: map[string]float64{"documents": 0.8, "document": 0.8, "kyc": 0.8}},
	{name: "schedule_visit",
		examples: []string{"i want to visit", "schedule an appointment", "kab aa sakte hain"},
		keywords: map[string]float64{"visit": 0.8, "appointment": 0.85, "branch": 0.7}},
	{name: "loan_inquiry",
		examples: []string{"i want a gold loan", "tell me about gold loan", "gold loan kaise milega"},
		keywords: map[string]float64{"gold loan": 0.8, "need a loan": 0.85, "want a loan": 0.85, "loan": 0.6}},
	{name: "greeting",
		examples: []string{"hello", "hi", "namaste", "good morning"},
		keywords: nil},
	{name: "farewell",
		examples: []string{"bye", "goodbye", "thank you bye", "dhanyavaad"},
		keywords: map[string]float64{"goodbye": 0.85, "bye": 0.8}},
	{name: "agreement",
		examples: []string{"yes", "sure", "okay", "ok", "haan", "go ahead", "sounds good", "i am interested", "tell me more"},
		keywords: map[string]float64{"sounds good": 0.85, "go ahead": 0.85, "interested": 0.7}},
}

var objectionKeywords = []struct {
	kind     ObjectionKind
	keywords []string
}{
	{ObjectionRate, []string{"too high", "expensive", "costly", "high interest", "mehnga", "too much interest"}},
	{ObjectionTrust, []string{"trust", "scam", "fraud", "cheat", "bharosa"}},
	{ObjectionTiming, []string{"busy", "bad time", "no time"}},
	{ObjectionCompetition, []string{"muthoot", "manappuram", "iifl", "other bank", "better offer", "better rate"}},
	{ObjectionProcess, []string{"complicated", "hassle", "too much paperwork", "takes too long", "lengthy process"}},
	{ObjectionSafety, []string{"safe", "security", "stolen", "lose my gold", "dar", "risk", "risky"}},
}

var (
	croreRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:crore|cr)\b`)
	lakhRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:lakhs?|lacs?)\b`)
	thousandRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:thousand|hazaa?r|k)\b`)
	rupeeRe    = regexp.MustCompile(`(?:rs\.?|₹|inr)\s*(\d+(?:,\d+)*(?:\.\d+)?)`)
	plainRe    = regexp.MustCompile(`\b(\d{4,})\b`)
	gramsRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:grams?|gms?|g)\b`)
	tolaRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:tolas?|tole)\b`)
	karatRe    = regexp.MustCompile(`\b(18|22|24)\s*(?:k|karat|carat|kt)\b`)
	lenderRe   = regexp.MustCompile(`\b(muthoot|manappuram|iifl|hdfc|sbi|icici)\b`)
	cityRe     = regexp.MustCompile(`\b(mumbai|delhi|bangalore|bengaluru|chennai|hyderabad|kolkata|pune|ahmedabad|jaipur)\b`)
)

var contractions = strings.NewReplacer(
	"what's", "what is", "it's", "it is", "i'm", "i am", "that's", "that is",
	"can't", "cannot", "don't", "do not", "won't", "will not", "i'd", "i would",
	"’", "'",
)

var numberWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5", "six": "6",
	"seven": "7", "eight": "8", "nine": "9", "ten": "10", "twenty": "20",
	"fifty": "50", "hundred": "100",
}

var fillers = map[string]struct{}{"um": {}, "uh": {}, "umm": {}, "hmm": {}, "erm": {}, "uhh": {}}

type ClassifierConfig struct {
	// MinConfidence below which an STT result is treated as misheard.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// MinIntentScore below which an utterance is a general intent.
	MinIntentScore float64 `mapstructure:"min_intent_score"`
	// Replacements fix recurring STT mistakes before classification.
	Replacements map[string]string `mapstructure:"replacements"`
}

// Detection is the classifier's view of one utterance.
type Detection struct {
	Intent    string
	Score     float64
	Objection ObjectionKind
	Slots     map[string]Slot
	Text      string
}

// Classifier maps utterances to conversation events with keyword and
// example scoring plus regex slot extraction.
type Classifier struct {
	cfg ClassifierConfig
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.4
	}
	if cfg.MinIntentScore <= 0 {
		cfg.MinIntentScore = 0.5
	}
	return &Classifier{cfg: cfg}
}

// Normalize lowercases, expands contractions, strips fillers and turns
// simple number words into digits.
func (c *Classifier) Normalize(text string) string {
	out := strings.ToLower(strings.TrimSpace(text))
	for from, to := range c.cfg.Replacements {
		if from != "" {
			out = strings.ReplaceAll(out, strings.ToLower(from), to)
		}
	}
	out = contractions.Replace(out)
	words := strings.Fields(out)
	kept := words[:0]
	for _, w := range words {
		bare := strings.Trim(w, ",.!?;:")
		if _, ok := fillers[bare]; ok {
			continue
		}
		if digit, ok := numberWords[bare]; ok {
			w = strings.Replace(w, bare, digit, 1)
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

func containsPhrase(text, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(text) {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); i++ {
		match := true
		for j := range phrase {
			if text[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func overlap(text, example []string) int {
	seen := make(map[string]struct{}, len(text))
	for _, t := range text {
		seen[t] = struct{}{}
	}
	n := 0
	for _, e := range example {
		if _, ok := seen[e]; ok {
			n++
			delete(seen, e)
		}
	}
	return n
}

func scoreIntent(toks []string, spec intentSpec) float64 {
	var score float64
	for _, ex := range spec.examples {
		exToks := tokens(ex)
		if len(exToks) == len(toks) && containsPhrase(toks, exToks) {
			return 1
		}
		if containsPhrase(toks, exToks) {
			score = max(score, 0.5+0.4*float64(len(exToks))/float64(len(toks)))
		}
		if n := overlap(toks, exToks); n > 0 {
			score = max(score, 0.8*float64(n)/float64(max(len(exToks), len(toks))))
		}
	}
	for kw, weight := range spec.keywords {
		if containsPhrase(toks, tokens(kw)) {
			score = max(score, weight)
		}
	}
	return score
}

func detectObjection(toks []string) (ObjectionKind, float64) {
	for _, group := range objectionKeywords {
		for _, kw := range group.keywords {
			kwToks := tokens(kw)
			if containsPhrase(toks, kwToks) {
				if len(kwToks) > 1 {
					return group.kind, 0.85
				}
				return group.kind, 0.75
			}
		}
	}
	return ObjectionNone, 0
}

// Detect scores every intent and extracts slots.
func (c *Classifier) Detect(text string) Detection {
	norm := c.Normalize(text)
	toks := tokens(norm)
	d := Detection{Text: norm, Slots: ExtractSlots(norm)}
	if len(toks) == 0 {
		return d
	}
	objKind, objScore := detectObjection(toks)
	for _, spec := range intentSpecs {
		s := scoreIntent(toks, spec)
		if spec.name == "objection" {
			s = max(s, objScore)
		}
		if s > d.Score {
			d.Intent, d.Score = spec.name, s
		}
	}
	if d.Intent == "objection" {
		d.Objection = objKind
		if d.Objection == ObjectionNone {
			d.Objection = ObjectionOther
		}
	}
	if d.Score < c.cfg.MinIntentScore {
		d.Intent = "general"
	}
	return d
}

// Classify turns a finalized utterance into the event the state machine
// consumes.
func (c *Classifier) Classify(u frames.Utterance) Event {
	lang := u.Language
	if lang == "" {
		lang = detectLanguage(u.Text)
	}
	ev := Event{Text: strings.TrimSpace(u.Text), Language: lang, Confidence: u.Confidence}
	if ev.Text == "" || (u.Confidence > 0 && u.Confidence < c.cfg.MinConfidence) {
		ev.Kind = EventLowConfidence
		return ev
	}
	d := c.Detect(u.Text)
	ev.Intent = d.Intent
	ev.Slots = d.Slots
	switch d.Intent {
	case "refusal":
		ev.Kind = EventUserRefusal
		if containsPhrase(tokens(d.Text), []string{"not", "interested"}) || strings.Contains(d.Text, "do not call") || strings.Contains(d.Text, "stop calling") {
			ev.Reason = "not interested"
		}
	case "farewell":
		ev.Kind = EventUserRefusal
		ev.Reason = "caller said goodbye"
	case "follow_up":
		ev.Kind = EventFollowUpRequested
		if strings.Contains(d.Text, "tomorrow") {
			ev.Reason = "call back tomorrow"
		}
	case "escalate":
		ev.Kind = EventEscalationRequested
		ev.Reason = "caller requested a human"
	case "objection":
		ev.Kind = EventUserObjection
		ev.Objection = d.Objection
	case "interest_rate":
		ev.Kind, ev.Topic = EventUserQuestion, TopicInterestRate
	case "eligibility_check":
		ev.Kind, ev.Topic = EventUserQuestion, TopicEligibility
	case "documentation":
		ev.Kind, ev.Topic = EventUserQuestion, TopicDocumentation
	case "agreement":
		ev.Kind = EventUserAgreement
	case "general":
		if strings.HasSuffix(strings.TrimSpace(u.Text), "?") {
			ev.Kind, ev.Topic = EventUserQuestion, TopicGeneral
		} else {
			ev.Kind = EventUserIntent
		}
	default:
		ev.Kind = EventUserIntent
	}
	return ev
}

// ExtractSlots pulls loan amount, gold weight and purity, current lender
// and city out of normalized text.
func ExtractSlots(text string) map[string]Slot {
	text = strings.ToLower(text)
	slots := make(map[string]Slot)
	if amount, conf, ok := extractAmount(text); ok {
		slots["loan_amount"] = Slot{Value: amount, Confidence: conf}
	}
	if m := gramsRe.FindStringSubmatch(text); m != nil {
		slots["gold_weight"] = Slot{Value: trimFloat(parseFloat(m[1])), Confidence: 0.9}
	} else if m := tolaRe.FindStringSubmatch(text); m != nil {
		slots["gold_weight"] = Slot{Value: trimFloat(parseFloat(m[1]) * 11.66), Confidence: 0.85}
	}
	if m := karatRe.FindStringSubmatch(text); m != nil {
		slots["gold_purity"] = Slot{Value: m[1], Confidence: 0.9}
	}
	if m := lenderRe.FindStringSubmatch(text); m != nil {
		slots["current_lender"] = Slot{Value: m[1], Confidence: 0.9}
	}
	if m := cityRe.FindStringSubmatch(text); m != nil {
		slots["city"] = Slot{Value: m[1], Confidence: 0.85}
	}
	return slots
}

func extractAmount(text string) (string, float64, bool) {
	purity := karatRe.MatchString(text)
	text = karatRe.ReplaceAllString(text, " ")
	scaled := []struct {
		re   *regexp.Regexp
		mult float64
	}{
		{croreRe, 1e7},
		{lakhRe, 1e5},
		{thousandRe, 1e3},
	}
	for _, s := range scaled {
		if m := s.re.FindStringSubmatch(text); m != nil {
			return trimFloat(parseFloat(m[1]) * s.mult), 0.9, true
		}
	}
	if m := rupeeRe.FindStringSubmatch(text); m != nil {
		return trimFloat(parseFloat(strings.ReplaceAll(m[1], ",", ""))), 0.9, true
	}
	if gramsRe.MatchString(text) || purity {
		return "", 0, false
	}
	if m := plainRe.FindStringSubmatch(text); m != nil {
		return m[1], 0.6, true
	}
	return "", 0, false
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func detectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return "hi"
		}
	}
	return ""
}
