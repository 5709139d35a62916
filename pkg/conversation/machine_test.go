package conversation

import (
	"reflect"
	"testing"

	"github.com/harunnryd/parley/pkg/frames"
	"pgregory.net/rapid"
)

func utterance(text string, confidence float64) frames.Utterance {
	return frames.Utterance{ID: "u1", Text: text, Confidence: confidence}
}

func TestMachineApplyTakesCheckpoint(t *testing.T) {
	m := NewMachine(nil, 0)
	actions := m.Apply(Event{Kind: EventCallStarted})
	if len(actions) == 0 || actions[0].Kind != ActionCheckpoint || actions[0].Seq != 1 {
		t.Fatalf("expected leading checkpoint action, got %+v", actions)
	}
	if m.State().Kind != StageGreeting {
		t.Fatalf("expected greeting, got %s", m.State())
	}
	cp, ok := m.LastCheckpoint()
	if !ok || cp.State.Kind != StageIdle || cp.Cause != EventCallStarted {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
}

func TestMachineUnmatchedEventSkipsCheckpoint(t *testing.T) {
	m := NewMachine(nil, 0)
	actions := m.Apply(Event{Kind: EventUserAgreement, Text: "yes"})
	if Has(actions, ActionCheckpoint) {
		t.Fatalf("unexpected checkpoint on unmatched event")
	}
	if len(m.Checkpoints()) != 0 {
		t.Fatalf("expected empty ring")
	}
}

func TestMachineRollbackRestoresCheckpoint(t *testing.T) {
	m := NewMachine(nil, 0)
	m.Apply(Event{Kind: EventCallStarted})
	m.Apply(Event{Kind: EventUserAgreement, Text: "yes"})
	beforeStage, beforeCtx := m.Snapshot()

	m.Apply(Event{
		Kind:  EventUserQuestion,
		Text:  "what is the interest rate for 5 lakh",
		Topic: TopicInterestRate,
		Slots: map[string]Slot{"loan_amount": {Value: "500000", Confidence: 0.9}},
	})
	if m.State().Kind != StagePitch {
		t.Fatalf("expected pitch, got %s", m.State())
	}
	cp, ok := m.LastCheckpoint()
	if !ok {
		t.Fatalf("expected a checkpoint")
	}

	if _, ok := m.Rollback(); !ok {
		t.Fatalf("rollback failed")
	}
	stage, ctx := m.Snapshot()
	if stage != beforeStage || stage != cp.State {
		t.Fatalf("expected %s after rollback, got %s", beforeStage, stage)
	}
	if !reflect.DeepEqual(ctx, beforeCtx) || !reflect.DeepEqual(ctx, cp.Context) {
		t.Fatalf("context differs after rollback:\n got %+v\nwant %+v", ctx, beforeCtx)
	}
}

func TestMachineFailedTurnKeepsCheckpointContext(t *testing.T) {
	m := NewMachine(nil, 0)
	m.Apply(Event{Kind: EventCallStarted})
	m.Apply(Event{Kind: EventUserQuestion, Text: "what is the interest rate", Topic: TopicInterestRate})
	cp, _ := m.LastCheckpoint()

	m.Rollback()
	actions := m.Apply(Event{Kind: EventTurnFailed})
	if !Has(actions, ActionSpeak) {
		t.Fatalf("expected apology, got %+v", actions)
	}
	_, ctx := m.Snapshot()
	if !reflect.DeepEqual(ctx, cp.Context) {
		t.Fatalf("expected context equal to checkpoint after failed turn")
	}
}

func TestMachineRingIsBounded(t *testing.T) {
	m := NewMachine(nil, 3)
	m.Apply(Event{Kind: EventCallStarted})
	for i := 0; i < 9; i++ {
		m.Apply(Event{Kind: EventBargeIn})
	}
	cps := m.Checkpoints()
	if len(cps) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(cps))
	}
	for i, cp := range cps {
		if cp.Seq != 8+i {
			t.Fatalf("expected seq %d, got %d", 8+i, cp.Seq)
		}
	}
}

func TestMachineRollbackTo(t *testing.T) {
	m := NewMachine(nil, 0)
	m.Apply(Event{Kind: EventCallStarted})
	m.Apply(Event{Kind: EventUserAgreement, Text: "yes"})
	m.Apply(Event{Kind: EventUserAgreement, Text: "sure"})
	if m.State().Kind != StagePitch {
		t.Fatalf("expected pitch, got %s", m.State())
	}
	if _, ok := m.RollbackTo(2); !ok {
		t.Fatalf("rollback to 2 failed")
	}
	if m.State().Kind != StageGreeting {
		t.Fatalf("expected greeting, got %s", m.State())
	}
	if len(m.Checkpoints()) != 1 {
		t.Fatalf("expected later checkpoints discarded")
	}
	if _, ok := m.RollbackTo(42); ok {
		t.Fatalf("expected unknown seq to fail")
	}
}

func TestMachineMissesEscalate(t *testing.T) {
	m := NewMachine(NewRules(RulesConfig{MaxMisses: 3}), 0)
	m.Apply(Event{Kind: EventCallStarted})
	var actions []Action
	for i := 0; i < 3; i++ {
		actions = m.Apply(Event{Kind: EventLowConfidence})
	}
	if m.State().Kind != StageEscalated {
		t.Fatalf("expected escalated, got %s", m.State())
	}
	esc, ok := Find(actions, ActionEscalate)
	if !ok || esc.To != EscalationTargetHuman {
		t.Fatalf("expected escalate action, got %+v", actions)
	}
}

func TestMachineReset(t *testing.T) {
	m := NewMachine(nil, 0)
	m.Apply(Event{Kind: EventCallStarted})
	m.Apply(Event{Kind: EventUserRefusal, Text: "not interested", Reason: "not interested"})
	if !m.State().IsTerminal() {
		t.Fatalf("expected terminal stage")
	}
	m.Reset()
	if m.State().Kind != StageIdle || len(m.Checkpoints()) != 0 {
		t.Fatalf("expected idle with empty ring")
	}
}

func TestMachineRollbackProperty(t *testing.T) {
	events := []Event{
		{Kind: EventCallStarted},
		{Kind: EventUserAgreement, Text: "yes"},
		{Kind: EventUserQuestion, Text: "rate?", Topic: TopicInterestRate},
		{Kind: EventUserQuestion, Text: "am i eligible", Topic: TopicEligibility},
		{Kind: EventUserObjection, Text: "too costly", Objection: ObjectionRate},
		{Kind: EventUserIntent, Text: "20 grams", Intent: "general", Slots: map[string]Slot{"gold_weight": {Value: "20", Confidence: 0.9}}},
		{Kind: EventLowConfidence},
		{Kind: EventBargeIn},
		{Kind: EventTimeout},
		{Kind: EventToolResult, ToolName: ToolInterestRates, ToolOK: true},
		{Kind: EventAgentReplied, Reply: "Our rate starts at 9.5%."},
		{Kind: EventUserRefusal, Text: "no"},
	}
	rapid.Check(t, func(t *rapid.T) {
		seq := rapid.SliceOfN(rapid.SampledFrom(events), 1, 40).Draw(t, "events")
		m := NewMachine(nil, 4)
		for _, ev := range seq {
			beforeStage, beforeCtx := m.Snapshot()
			actions := m.Apply(ev)
			if !Has(actions, ActionCheckpoint) {
				stage, ctx := m.Snapshot()
				if stage != beforeStage || !reflect.DeepEqual(ctx, beforeCtx) {
					t.Fatalf("unmatched %s changed state", ev.Kind)
				}
				continue
			}
			m.Rollback()
			stage, ctx := m.Snapshot()
			if stage != beforeStage || !reflect.DeepEqual(ctx, beforeCtx) {
				t.Fatalf("rollback after %s did not restore state", ev.Kind)
			}
			m.Apply(ev)
			if len(m.Checkpoints()) > 4 {
				t.Fatalf("ring exceeded limit")
			}
		}
	})
}
