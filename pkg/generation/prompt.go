package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/copier"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/llm"
	"github.com/harunnryd/parley/pkg/tools"
)

// Snapshot is the read-only view of the conversation a turn is generated
// from. It is copied out of the machine's context so generation never
// shares memory with the transition worker.
type Snapshot struct {
	Stage         string
	Slots         map[string]conversation.Slot
	TurnCount     int
	History       []conversation.Message
	LastIntent    string
	LastObjection conversation.ObjectionKind
	Language      string
	PriorSummary  string
}

func NewSnapshot(stage conversation.Stage, c conversation.Context) (Snapshot, error) {
	var snap Snapshot
	if err := copier.CopyWithOption(&snap, &c, copier.Option{DeepCopy: true}); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot context: %w", err)
	}
	snap.Stage = stage.String()
	return snap, nil
}

const defaultSystemPrompt = `You are Asha, a friendly voice agent for a gold loan company.
Speak in short, natural sentences suited to a phone call. Never use lists, markdown or emojis.
Only quote numbers that come from tool results or the reference documents.`

var topicHints = map[string]string{
	conversation.TopicInterestRate:  "The caller asked about interest rates. Quote the rate for their amount if known.",
	conversation.TopicEligibility:   "The caller asked about eligibility. Explain how much they can borrow against their gold.",
	conversation.TopicDocumentation: "The caller asked which documents are needed. Keep the list short.",
	conversation.TopicComparison:    "The caller has a loan elsewhere. Compare plainly and mention savings.",
	conversation.TopicNeeds:         "Ask one question to learn the loan amount or gold weight.",
	conversation.TopicClosing:       "The caller agreed. Propose a branch visit or a call back to complete the application.",
}

var languageNames = map[string]string{"hi": "Hindi", "en": "English", "ta": "Tamil", "te": "Telugu", "mr": "Marathi"}

// BuildRequest assembles the model request for one turn.
func BuildRequest(system string, turn Turn, docs []retrieval.Document, defs []tools.Definition, params llm.Params) llm.GenerationRequest {
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\nConversation stage: ")
	sb.WriteString(turn.Snapshot.Stage)
	if hint := topicHint(turn.Topic); hint != "" {
		sb.WriteString("\n")
		sb.WriteString(hint)
	}
	if name, ok := languageName(turn.Snapshot.Language); ok {
		fmt.Fprintf(&sb, "\nReply in %s.", name)
	}
	if len(turn.Snapshot.Slots) > 0 {
		keys := make([]string, 0, len(turn.Snapshot.Slots))
		for k := range turn.Snapshot.Slots {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nKnown about the caller:")
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n- %s: %s", k, turn.Snapshot.Slots[k].Value)
		}
	}
	if turn.Snapshot.PriorSummary != "" {
		sb.WriteString("\nPrevious call: ")
		sb.WriteString(turn.Snapshot.PriorSummary)
	}
	if len(turn.ToolResults) > 0 {
		sb.WriteString("\nTool results:")
		for _, r := range turn.ToolResults {
			fmt.Fprintf(&sb, "\n- %s: %s", r.Name, r.Content())
		}
	}

	req := llm.GenerationRequest{
		SystemPrompt: sb.String(),
		Documents:    docs,
		Params:       params,
	}
	for _, d := range defs {
		req.Tools = append(req.Tools, d.LLMTool())
	}
	for _, m := range turn.Snapshot.History {
		role := llm.RoleUser
		if m.Role == conversation.RoleAgent {
			role = llm.RoleAssistant
		}
		req.Messages = append(req.Messages, llm.Message{Role: role, Content: m.Text})
	}
	if q := strings.TrimSpace(turn.Query); q != "" {
		n := len(req.Messages)
		if n == 0 || req.Messages[n-1].Role != llm.RoleUser || req.Messages[n-1].Content != q {
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: q})
		}
	}
	return req
}

// languageName maps the primary subtag of a language tag ("hi-IN" -> "hi")
// to the name used in the prompt.
func languageName(tag string) (string, bool) {
	primary, _, _ := strings.Cut(frames.NormalizeLanguage(tag), "-")
	name, ok := languageNames[primary]
	return name, ok
}

func topicHint(topic string) string {
	if hint, ok := topicHints[topic]; ok {
		return hint
	}
	if kind, ok := strings.CutPrefix(topic, "objection:"); ok {
		return fmt.Sprintf("The caller raised a %s concern. Acknowledge it and address it in one or two sentences.", kind)
	}
	return ""
}
