package conversation

import "strings"

const (
	PhraseGreeting          = "greeting"
	PhraseGreetingReturning = "greeting_returning"
	PhraseRepeat            = "repeat"
	PhraseDidntCatch        = "didnt_catch"
	PhraseApology           = "apology"
	PhraseDeclined          = "declined"
	PhraseFollowUp          = "follow_up"
	PhraseHandoff           = "handoff"
	PhraseConverted         = "converted"
	PhraseFiller            = "filler"
	PhraseGoodbye           = "goodbye"
)

var defaultPhrases = map[string]map[string]string{
	"en": {
		PhraseGreeting:          "Hello, this is Asha calling about gold loan offers. Do you have a minute?",
		PhraseGreetingReturning: "Hello again, this is Asha. We spoke earlier about your gold loan. Shall we pick up where we left off?",
		PhraseRepeat:            "Sorry, could you repeat that?",
		PhraseDidntCatch:        "Sorry, I didn't catch that. Could you say it again?",
		PhraseApology:           "I'm sorry, something went wrong on my side. Could you ask that once more?",
		PhraseDeclined:          "No problem, thank you for your time. Have a great day!",
		PhraseFollowUp:          "Sure, I will call you back later. Thank you!",
		PhraseHandoff:           "Let me connect you to one of my colleagues.",
		PhraseConverted:         "Wonderful, I have noted your details and our team will confirm shortly.",
		PhraseFiller:            "One moment, let me check that for you.",
		PhraseGoodbye:           "Thank you for calling. Goodbye!",
	},
	"hi": {
		PhraseGreeting:          "Namaste, main Asha bol rahi hoon, gold loan offers ke baare mein. Kya aapke paas ek minute hai?",
		PhraseGreetingReturning: "Namaste, main Asha. Humne pehle aapke gold loan ke baare mein baat ki thi. Kya hum wahin se aage badhein?",
		PhraseRepeat:            "Maaf kijiye, kya aap dobara bol sakte hain?",
		PhraseDidntCatch:        "Maaf kijiye, main samajh nahi payi. Kya aap phir se bolenge?",
		PhraseApology:           "Maaf kijiye, meri taraf se kuch gadbad hui. Kya aap phir se poochhenge?",
		PhraseDeclined:          "Koi baat nahi, aapke samay ke liye dhanyavaad!",
		PhraseFollowUp:          "Theek hai, main aapko baad mein call karungi. Dhanyavaad!",
		PhraseHandoff:           "Main aapko apne saathi se jod rahi hoon.",
		PhraseConverted:         "Bahut badhiya, maine aapki details note kar li hain. Hamari team jaldi confirm karegi.",
		PhraseFiller:            "Ek minute, main check karti hoon.",
		PhraseGoodbye:           "Call karne ke liye dhanyavaad!",
	},
}

// Phrasebook holds the fixed lines the agent speaks without the model.
type Phrasebook struct {
	byLang   map[string]map[string]string
	fallback string
}

// NewPhrasebook layers overrides (language -> key -> text) over the
// built-in English and Hindi lines.
func NewPhrasebook(overrides map[string]map[string]string) *Phrasebook {
	byLang := make(map[string]map[string]string, len(defaultPhrases))
	for lang, phrases := range defaultPhrases {
		byLang[lang] = make(map[string]string, len(phrases))
		for k, v := range phrases {
			byLang[lang][k] = v
		}
	}
	for lang, phrases := range overrides {
		lang = normalizeLang(lang)
		if byLang[lang] == nil {
			byLang[lang] = make(map[string]string, len(phrases))
		}
		for k, v := range phrases {
			if strings.TrimSpace(v) != "" {
				byLang[lang][k] = v
			}
		}
	}
	return &Phrasebook{byLang: byLang, fallback: "en"}
}

// Text returns the phrase for lang, falling back to English.
func (p *Phrasebook) Text(lang, key string) string {
	if p == nil {
		p = NewPhrasebook(nil)
	}
	if text := p.byLang[normalizeLang(lang)][key]; text != "" {
		return text
	}
	return p.byLang[p.fallback][key]
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
