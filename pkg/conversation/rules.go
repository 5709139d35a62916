package conversation

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Topics carried by UserQuestion events and GenerateResponse actions.
const (
	TopicInterestRate  = "interest_rate"
	TopicEligibility   = "eligibility"
	TopicDocumentation = "documentation"
	TopicComparison    = "comparison"
	TopicNeeds         = "needs_analysis"
	TopicClosing       = "closing"
	TopicGeneral       = "general"
)

// Tools the transition table may ask for.
const (
	ToolInterestRates  = "get_interest_rates"
	ToolEligibility    = "check_eligibility"
	ToolCompareLenders = "compare_lenders"
	ToolScheduleVisit  = "schedule_visit"
	ToolCaptureLead    = "capture_lead"
)

const EscalationTargetHuman = "human_agent"

type (
	Guard   func(s Stage, c Context, e Event) bool
	Target  func(s Stage, c Context, e Event) Stage
	Effects func(next Stage, c Context, e Event) []Action
)

// Rule is one row of the transition table. An empty From matches every
// non-terminal stage.
type Rule struct {
	Name   string
	From   []StageKind
	On     EventKind
	When   Guard
	To     Target
	Update func(c *Context, e Event)
	Do     Effects
}

func (r Rule) matches(s Stage, c Context, e Event) bool {
	if r.On != e.Kind {
		return false
	}
	if len(r.From) > 0 && !slices.Contains(r.From, s.Kind) {
		return false
	}
	return r.When == nil || r.When(s, c, e)
}

type RulesConfig struct {
	HistoryLimit  int
	MaxMisses     int
	FollowUpAfter time.Duration
	Phrases       *Phrasebook
}

// Rules is the declared transition table plus the knobs it reads.
type Rules struct {
	cfg   RulesConfig
	table []Rule
}

func NewRules(cfg RulesConfig) *Rules {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 12
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = 3
	}
	if cfg.FollowUpAfter <= 0 {
		cfg.FollowUpAfter = 24 * time.Hour
	}
	if cfg.Phrases == nil {
		cfg.Phrases = NewPhrasebook(nil)
	}
	r := &Rules{cfg: cfg}
	r.table = r.buildTable()
	return r
}

var defaultRules = NewRules(RulesConfig{})

// Transition is the pure transition function over the default table.
func Transition(s Stage, c Context, e Event) (Stage, Context, []Action) {
	return defaultRules.Transition(s, c, e)
}

func (r *Rules) Table() []Rule { return append([]Rule(nil), r.table...) }

// Transition computes the next stage, context and actions. It performs no
// I/O and never mutates its inputs. An event without a matching rule leaves
// stage and context unchanged and yields a single Diagnostic action.
func (r *Rules) Transition(s Stage, c Context, e Event) (Stage, Context, []Action) {
	next, nc, actions, _ := r.transition(s, c, e)
	return next, nc, actions
}

func (r *Rules) transition(s Stage, c Context, e Event) (Stage, Context, []Action, bool) {
	if e.Kind == EventReset {
		nc := NewContext()
		nc.Language = c.Language
		return Idle(), nc, []Action{Diagnostic("conversation reset")}, true
	}
	if s.IsTerminal() {
		return s, c, []Action{Diagnostic(fmt.Sprintf("stage %s is terminal; ignored %s", s, e.Kind))}, false
	}
	var rule *Rule
	for i := range r.table {
		if r.table[i].matches(s, c, e) {
			rule = &r.table[i]
			break
		}
	}
	if rule == nil {
		return s, c, []Action{Diagnostic(fmt.Sprintf("no transition from %s on %s", s, e.Kind))}, false
	}

	next := s
	if rule.To != nil {
		next = rule.To(s, c, e)
	}
	nc := c.Clone()
	if e.Language != "" {
		nc.Language = e.Language
	}
	if e.fromCaller() {
		nc.TurnCount++
		nc.AppendHistory(Message{Role: RoleUser, Text: e.Text}, r.cfg.HistoryLimit)
	}
	changed := nc.mergeSlots(e.Slots, nc.TurnCount)
	sort.Strings(changed)
	if e.Intent != "" {
		nc.LastIntent = e.Intent
	}
	if e.Kind == EventUserObjection {
		nc.LastObjection = next.Objection
	}
	switch {
	case e.Kind == EventLowConfidence || e.Kind == EventTimeout:
		nc.Misses++
	case e.fromCaller():
		nc.Misses = 0
	}
	if rule.Update != nil {
		rule.Update(&nc, e)
	}

	var actions []Action
	if rule.Do != nil {
		actions = rule.Do(next, nc, e)
	}
	for _, k := range changed {
		actions = append(actions, UpdateSlot(k))
	}
	if next.IsTerminal() {
		nc.Outcome = outcomeFor(next)
		if end, ok := Find(actions, ActionEndConversation); ok {
			nc.Outcome = end.Outcome
		} else {
			actions = append(actions, EndConversation(nc.Outcome))
		}
	}
	return next, nc, actions, true
}

var (
	allActive = []StageKind{
		StageGreeting, StageDiscovery, StageNeedsAnalysis, StagePitch,
		StageComparison, StageObjectionHandling, StageClosing,
	}
	early    = []StageKind{StageGreeting, StageDiscovery, StageNeedsAnalysis}
	offering = []StageKind{StagePitch, StageComparison, StageObjectionHandling}
)

func (r *Rules) buildTable() []Rule {
	return []Rule{
		{Name: "call_started", From: []StageKind{StageIdle}, On: EventCallStarted, To: goTo(Greeting),
			Update: func(c *Context, e Event) { c.PriorSummary = e.Reason },
			Do:     r.do(r.greet, listen)},

		// exits available from every active stage
		{Name: "escalation", From: allActive, On: EventEscalationRequested, To: escalated("caller requested a human"),
			Do: r.do(r.say(PhraseHandoff), escalate)},
		{Name: "follow_up", From: allActive, On: EventFollowUpRequested, To: followUp("caller asked for a call back"),
			Do: r.do(r.say(PhraseFollowUp), r.scheduleFollowUp)},
		{Name: "soft_refusal", From: []StageKind{StagePitch, StageComparison}, On: EventUserRefusal, When: not(firmRefusal),
			To: func(Stage, Context, Event) Stage { return ObjectionHandling(ObjectionOther) },
			Do: r.do(generate("objection:"+string(ObjectionOther)), listen)},
		{Name: "refusal", From: allActive, On: EventUserRefusal, To: declined, Do: r.do(r.say(PhraseDeclined))},
		{Name: "call_ended", On: EventCallEnded, To: followUp("call ended before an outcome"),
			Do: r.do(r.scheduleFollowUp, endWith(OutcomeAbandoned))},

		// questions
		{Name: "rate_question", From: allActive, On: EventUserQuestion, When: topicIs(TopicInterestRate),
			To: stayIn(StagePitch, StageClosing).orGoTo(Pitch),
			Do: r.do(tool(ToolInterestRates, "loan_amount", "gold_weight"), generate(TopicInterestRate), listen)},
		{Name: "eligibility_question", From: allActive, On: EventUserQuestion, When: topicIs(TopicEligibility),
			To: stayIn(StagePitch, StageComparison, StageClosing).orGoTo(NeedsAnalysis),
			Do: r.do(tool(ToolEligibility, "gold_weight", "gold_purity", "loan_amount"), generate(TopicEligibility), listen)},
		{Name: "question", From: allActive, On: EventUserQuestion, Do: r.do(generate(""), listen)},

		// objections
		{Name: "objection", From: allActive, On: EventUserObjection, To: objection,
			Do: func(next Stage, c Context, e Event) []Action {
				return []Action{GenerateResponse(e.Text, "objection:"+string(next.Objection)), StartListening()}
			}},

		// intents
		{Name: "switch_lender", From: append(slices.Clone(early), StagePitch), On: EventUserIntent, When: intentIs("switch_lender"),
			To: goTo(Comparison), Do: r.do(tool(ToolCompareLenders, "current_lender", "loan_amount"), generate(TopicComparison), listen)},
		{Name: "loan_inquiry_with_amount", From: early, On: EventUserIntent, When: and(intentIs("loan_inquiry"), knows("loan_amount")),
			To: goTo(Pitch), Do: r.do(tool(ToolInterestRates, "loan_amount", "gold_weight"), generate(TopicInterestRate), listen)},
		{Name: "loan_inquiry", From: []StageKind{StageGreeting, StageDiscovery}, On: EventUserIntent, When: intentIs("loan_inquiry"),
			To: goTo(NeedsAnalysis), Do: r.do(generate(TopicNeeds), listen)},
		{Name: "needs_answered", From: []StageKind{StageNeedsAnalysis}, On: EventUserIntent, When: knows("loan_amount"),
			To: goTo(Pitch), Do: r.do(tool(ToolInterestRates, "loan_amount", "gold_weight"), generate(TopicInterestRate), listen)},
		{Name: "schedule_visit", From: append(slices.Clone(offering), StageClosing), On: EventUserIntent, When: intentIs("schedule_visit"),
			To: converted("branch_visit"), Do: r.do(tool(ToolScheduleVisit, "city", "loan_amount", "gold_weight"), r.say(PhraseConverted))},
		{Name: "greeting_reply", From: []StageKind{StageGreeting}, On: EventUserIntent, To: goTo(Discovery), Do: r.do(generate(""), listen)},
		{Name: "intent", From: allActive, On: EventUserIntent, Do: r.do(generate(""), listen)},

		// agreement moves the call forward one step
		{Name: "agree_greeting", From: []StageKind{StageGreeting}, On: EventUserAgreement, To: goTo(Discovery), Do: r.do(generate(TopicNeeds), listen)},
		{Name: "agree_discovery", From: []StageKind{StageDiscovery, StageNeedsAnalysis}, On: EventUserAgreement, To: goTo(Pitch),
			Do: r.do(tool(ToolInterestRates, "loan_amount", "gold_weight"), generate(TopicInterestRate), listen)},
		{Name: "agree_offer", From: offering, On: EventUserAgreement, To: goTo(Closing), Do: r.do(generate(TopicClosing), listen)},
		{Name: "agree_close", From: []StageKind{StageClosing}, On: EventUserAgreement, To: converted("application_started"),
			Do: r.do(tool(ToolCaptureLead, "loan_amount", "gold_weight", "city", "current_lender"), r.say(PhraseConverted))},

		// recovery
		{Name: "too_many_misses", From: allActive, On: EventLowConfidence, When: r.missesReached, To: escalated("repeated misunderstanding"),
			Do: r.do(r.say(PhraseHandoff), escalate)},
		{Name: "low_confidence", From: allActive, On: EventLowConfidence, Do: r.do(r.say(PhraseRepeat), listen)},
		{Name: "timeout_escalation", From: allActive, On: EventTimeout, When: r.missesReached, To: escalated("repeated timeouts"),
			Do: r.do(r.say(PhraseHandoff), escalate)},
		{Name: "timeout", From: allActive, On: EventTimeout, Do: r.do(r.say(PhraseDidntCatch), listen)},
		{Name: "turn_failed", On: EventTurnFailed, Do: r.do(r.say(PhraseApology), listen)},
		{Name: "barge_in", On: EventBargeIn, Do: r.do(listen)},
		{Name: "tool_result", From: allActive, On: EventToolResult,
			Update: func(c *Context, e Event) {
				status := "error"
				if e.ToolOK {
					status = "ok"
				}
				if c.Slots == nil {
					c.Slots = make(map[string]Slot)
				}
				c.Slots["tool."+e.ToolName] = Slot{Value: status, Confidence: 1, Turn: c.TurnCount}
			}},
		{Name: "agent_replied", On: EventAgentReplied,
			Update: func(c *Context, e Event) {
				c.AppendHistory(Message{Role: RoleAgent, Text: e.Reply}, r.cfg.HistoryLimit)
			}},
	}
}

// targets

func goTo(stage func() Stage) Target {
	return func(Stage, Context, Event) Stage { return stage() }
}

type stayKinds []StageKind

func stayIn(kinds ...StageKind) stayKinds { return kinds }

func (k stayKinds) orGoTo(stage func() Stage) Target {
	return func(s Stage, _ Context, _ Event) Stage {
		if slices.Contains(k, s.Kind) {
			return s
		}
		return stage()
	}
}

func objection(_ Stage, _ Context, e Event) Stage { return ObjectionHandling(e.Objection) }

func declined(_ Stage, _ Context, e Event) Stage {
	reason := e.Reason
	if reason == "" {
		reason = "not interested"
	}
	return Declined(reason)
}

func converted(detail string) Target {
	return func(Stage, Context, Event) Stage { return Converted(detail) }
}

func followUp(note string) Target {
	return func(_ Stage, _ Context, e Event) Stage {
		if e.Reason != "" {
			return FollowUp(e.Reason)
		}
		return FollowUp(note)
	}
}

func escalated(reason string) Target {
	return func(_ Stage, _ Context, e Event) Stage {
		if e.Kind == EventEscalationRequested && e.Reason != "" {
			return Escalated(e.Reason)
		}
		return Escalated(reason)
	}
}

// guards

func topicIs(topic string) Guard {
	return func(_ Stage, _ Context, e Event) bool { return e.Topic == topic }
}

func intentIs(intent string) Guard {
	return func(_ Stage, _ Context, e Event) bool { return e.Intent == intent }
}

// knows is true when the slot is already filled or arrives with the event.
func knows(key string) Guard {
	return func(_ Stage, c Context, e Event) bool {
		if _, ok := e.Slots[key]; ok {
			return true
		}
		_, ok := c.Slots[key]
		return ok
	}
}

func firmRefusal(_ Stage, c Context, e Event) bool {
	return e.Reason == "not interested" || c.LastObjection != ObjectionNone
}

func not(g Guard) Guard {
	return func(s Stage, c Context, e Event) bool { return !g(s, c, e) }
}

func and(gs ...Guard) Guard {
	return func(s Stage, c Context, e Event) bool {
		for _, g := range gs {
			if !g(s, c, e) {
				return false
			}
		}
		return true
	}
}

func (r *Rules) missesReached(_ Stage, c Context, _ Event) bool {
	return c.Misses+1 >= r.cfg.MaxMisses
}

// effects

func (r *Rules) do(effects ...Effects) Effects {
	return func(next Stage, c Context, e Event) []Action {
		var out []Action
		for _, fx := range effects {
			out = append(out, fx(next, c, e)...)
		}
		return out
	}
}

func (r *Rules) say(key string) Effects {
	return func(_ Stage, c Context, _ Event) []Action {
		return []Action{Speak(r.cfg.Phrases.Text(c.Language, key))}
	}
}

func (r *Rules) greet(_ Stage, c Context, _ Event) []Action {
	key := PhraseGreeting
	if c.PriorSummary != "" {
		key = PhraseGreetingReturning
	}
	return []Action{Speak(r.cfg.Phrases.Text(c.Language, key))}
}

func (r *Rules) scheduleFollowUp(next Stage, _ Context, _ Event) []Action {
	return []Action{ScheduleFollowUp(r.cfg.FollowUpAfter, next.Detail)}
}

func listen(Stage, Context, Event) []Action { return []Action{StartListening()} }

func escalate(next Stage, _ Context, _ Event) []Action {
	return []Action{Escalate(EscalationTargetHuman, next.Detail)}
}

func endWith(outcome Outcome) Effects {
	return func(Stage, Context, Event) []Action { return []Action{EndConversation(outcome)} }
}

// generate asks for a model response. An empty topic uses the event's.
func generate(topic string) Effects {
	return func(_ Stage, _ Context, e Event) []Action {
		t := topic
		if t == "" {
			t = e.Topic
		}
		if t == "" {
			t = e.Intent
		}
		if t == "" {
			t = TopicGeneral
		}
		query := e.Text
		if query == "" {
			query = t
		}
		return []Action{GenerateResponse(query, t)}
	}
}

// tool builds an ExecuteTool action whose arguments are the named slots
// that are currently filled.
func tool(name string, slotKeys ...string) Effects {
	return func(_ Stage, c Context, _ Event) []Action {
		args := make(map[string]string, len(slotKeys))
		for _, k := range slotKeys {
			if v := c.SlotValue(k); v != "" {
				args[k] = v
			}
		}
		if c.Language != "" {
			args["language"] = c.Language
		}
		raw, _ := json.Marshal(args)
		return []Action{ExecuteTool(name, raw)}
	}
}
