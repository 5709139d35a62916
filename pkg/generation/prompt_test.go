package generation

import (
	"strings"
	"testing"

	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/llm"
)

func TestBuildRequestLanguage(t *testing.T) {
	cases := []struct {
		lang string
		want string
	}{
		{"hi", "Reply in Hindi."},
		{"hi-IN", "Reply in Hindi."},
		{"TA_in", "Reply in Tamil."},
		{"en", "Reply in English."},
		// the Kelvin sign lowers to a one-byte "k"
		{"\u212a", ""},
		{"\u212aelvin", ""},
		{"xx", ""},
		{"", ""},
	}
	for _, tc := range cases {
		turn := Turn{Query: "rates?", Snapshot: Snapshot{Stage: "pitch", Language: tc.lang}}
		req := BuildRequest("", turn, nil, nil, llm.Params{})
		has := strings.Contains(req.SystemPrompt, "Reply in ")
		if tc.want == "" && has {
			t.Fatalf("%q: unexpected language line in prompt:\n%s", tc.lang, req.SystemPrompt)
		}
		if tc.want != "" && !strings.Contains(req.SystemPrompt, tc.want) {
			t.Fatalf("%q: expected %q in prompt:\n%s", tc.lang, tc.want, req.SystemPrompt)
		}
	}
}

func TestBuildRequestFoldsContext(t *testing.T) {
	turn := Turn{
		Query: "what is the rate",
		Topic: conversation.TopicInterestRate,
		Snapshot: Snapshot{
			Stage: "pitch",
			Slots: map[string]conversation.Slot{"loan_amount": {Value: "200000", Confidence: 0.9}},
			History: []conversation.Message{
				{Role: conversation.RoleAgent, Text: "How can I help?"},
				{Role: conversation.RoleUser, Text: "what is the rate"},
			},
		},
	}
	req := BuildRequest("", turn, nil, nil, llm.Params{})
	if !strings.Contains(req.SystemPrompt, "- loan_amount: 200000") {
		t.Fatalf("slots missing from prompt:\n%s", req.SystemPrompt)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleAssistant {
		t.Fatalf("query duplicated or history lost: %+v", req.Messages)
	}
}
