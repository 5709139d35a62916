package conversation

import (
	"testing"

	"github.com/harunnryd/parley/pkg/frames"
)

func TestClassifierEvents(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	cases := []struct {
		text      string
		kind      EventKind
		intent    string
		topic     string
		objection ObjectionKind
		reason    string
	}{
		{text: "Hello", kind: EventUserIntent, intent: "greeting"},
		{text: "Yes, tell me more", kind: EventUserAgreement, intent: "agreement"},
		{text: "I am not interested", kind: EventUserRefusal, intent: "refusal", reason: "not interested"},
		{text: "Call me tomorrow", kind: EventFollowUpRequested, intent: "follow_up", reason: "call back tomorrow"},
		{text: "I want to talk to a real person", kind: EventEscalationRequested, intent: "escalate", reason: "caller requested a human"},
		{text: "Your rates are too high compared to Muthoot", kind: EventUserObjection, intent: "objection", objection: ObjectionRate},
		{text: "Is my gold safe with you?", kind: EventUserObjection, intent: "objection", objection: ObjectionSafety},
		{text: "What documents are needed", kind: EventUserQuestion, intent: "documentation", topic: TopicDocumentation},
		{text: "Am I eligible", kind: EventUserQuestion, intent: "eligibility_check", topic: TopicEligibility},
		{text: "I want to switch from Manappuram", kind: EventUserIntent, intent: "switch_lender"},
		{text: "No problem, go ahead", kind: EventUserAgreement, intent: "agreement"},
	}
	for _, tc := range cases {
		ev := c.Classify(utterance(tc.text, 0.9))
		if ev.Kind != tc.kind || ev.Intent != tc.intent {
			t.Fatalf("%q: expected %s/%s, got %s/%s", tc.text, tc.kind, tc.intent, ev.Kind, ev.Intent)
		}
		if ev.Topic != tc.topic || ev.Objection != tc.objection || ev.Reason != tc.reason {
			t.Fatalf("%q: unexpected event %+v", tc.text, ev)
		}
	}
}

func TestClassifierLowConfidence(t *testing.T) {
	c := NewClassifier(ClassifierConfig{MinConfidence: 0.5})
	if ev := c.Classify(utterance("hello", 0.3)); ev.Kind != EventLowConfidence {
		t.Fatalf("expected low confidence, got %s", ev.Kind)
	}
	if ev := c.Classify(utterance("   ", 0.9)); ev.Kind != EventLowConfidence {
		t.Fatalf("expected low confidence for empty text, got %s", ev.Kind)
	}
}

func TestClassifierLanguage(t *testing.T) {
	c := NewClassifier(ClassifierConfig{})
	ev := c.Classify(utterance("मुझे गोल्ड लोन चाहिए", 0.9))
	if ev.Language != "hi" {
		t.Fatalf("expected hi, got %q", ev.Language)
	}
	ev = c.Classify(frames.Utterance{Text: "hello", Language: "en-IN", Confidence: 0.9})
	if ev.Language != "en-IN" {
		t.Fatalf("expected STT language to win, got %q", ev.Language)
	}
}

func TestNormalize(t *testing.T) {
	c := NewClassifier(ClassifierConfig{Replacements: map[string]string{"gold alone": "gold loan"}})
	got := c.Normalize("Um, I'm looking for a Gold alone of five lakh")
	want := "i am looking for a gold loan of 5 lakh"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExtractSlots(t *testing.T) {
	cases := []struct {
		text string
		want map[string]string
	}{
		{"i need 5 lakh", map[string]string{"loan_amount": "500000"}},
		{"about 1.5 crore", map[string]string{"loan_amount": "15000000"}},
		{"rs 75,000 please", map[string]string{"loan_amount": "75000"}},
		{"50 thousand", map[string]string{"loan_amount": "50000"}},
		{"i have 20 grams of 22 karat gold", map[string]string{"gold_weight": "20", "gold_purity": "22"}},
		{"my loan is with muthoot in pune", map[string]string{"current_lender": "muthoot", "city": "pune"}},
	}
	for _, tc := range cases {
		slots := ExtractSlots(tc.text)
		if len(slots) != len(tc.want) {
			t.Fatalf("%q: expected %v, got %+v", tc.text, tc.want, slots)
		}
		for k, v := range tc.want {
			if slots[k].Value != v {
				t.Fatalf("%q: expected %s=%s, got %q", tc.text, k, v, slots[k].Value)
			}
		}
	}
}
