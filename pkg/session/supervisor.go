package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
	"github.com/harunnryd/parley/pkg/conversation"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/generation"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/tools"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdUtterance
	cmdBargeIn
	cmdTurnDone
	cmdFatal
	cmdClose
)

type command struct {
	kind      commandKind
	at        time.Time
	utterance frames.Utterance
	result    turnResult
	err       error
}

// job is the executable part of one action list.
type job struct {
	tools    []tools.Invocation
	steps    []step
	recovery bool
	admitted time.Time
}

type step struct {
	speak    string
	generate *conversation.Action
}

func (j job) empty() bool { return len(j.tools) == 0 && len(j.steps) == 0 }

type activeTurn struct {
	id         string
	cancel     context.CancelCauseFunc
	checkpoint int
	started    time.Time
}

type turnResult struct {
	id         string
	recovery   bool
	admitted   time.Time
	firstAudio time.Time
	spoken     []string
	tools      []tools.Result
	cancelled  bool
	err        error
	cause      error
}

// loop is the only goroutine that touches the conversation machine.
func (s *Session) loop() {
	defer func() {
		if r := recover(); r != nil {
			err := errorsx.FatalSession(errorsx.Wrap(fmt.Errorf("supervisor panic: %v", r), errorsx.ReasonPanic))
			s.logger.Error("supervisor_panic", "error", err)
			if !s.torn {
				s.teardown(err)
			}
		}
	}()
	for {
		cmd, err := s.inbox.Pop(context.Background())
		if err != nil {
			return
		}
		switch cmd.kind {
		case cmdStart:
			s.begin()
		case cmdUtterance:
			s.onUtterance(cmd.utterance, cmd.at)
		case cmdBargeIn:
			s.onBargeIn(cmd.at)
		case cmdTurnDone:
			s.onTurnDone(cmd.result)
		case cmdFatal:
			s.teardown(cmd.err)
		case cmdClose:
			s.teardown(nil)
		}
		if s.torn {
			return
		}
		if s.ending && s.active == nil {
			s.teardown(nil)
			return
		}
	}
}

func (s *Session) begin() {
	prior := ""
	if s.customerID != "" {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.MemoryTimeout)
		sum, ok, err := s.deps.Memory.Load(ctx, s.customerID)
		cancel()
		switch {
		case err != nil:
			metrics.Count(s.obs, metrics.EventMemory, map[string]string{"op": "load", "status": "error"})
			s.logger.Warn("memory_load_failed", "customer_id", s.customerID, "error", errorsx.Wrap(err, errorsx.ReasonMemory))
		case ok:
			prior = sum.Text
			metrics.Count(s.obs, metrics.EventMemory, map[string]string{"op": "load", "status": "hit"})
		}
	}
	s.apply(conversation.Event{Kind: conversation.EventCallStarted, Reason: prior, Language: s.cfg.Language}, job{})
}

func (s *Session) onUtterance(u frames.Utterance, at time.Time) {
	if s.active != nil {
		if len(s.deferred) >= s.cfg.MaxDeferred {
			dropped := s.deferred[0]
			s.deferred = append(s.deferred[:0], s.deferred[1:]...)
			metrics.Count(s.obs, metrics.EventQueueDropped, map[string]string{"session_id": s.id, "queue": "deferred_utterances"})
			s.logger.Warn("utterance_dropped", "utterance_id", dropped.ID, "reason", "deferred queue full")
		}
		s.deferred = append(s.deferred, u)
		s.logger.Debug("utterance_deferred", "utterance_id", u.ID, "queued", len(s.deferred))
		return
	}
	metrics.Count(s.obs, metrics.EventUtteranceFinal, s.tags())
	s.logger.Info("utterance", "utterance_id", u.ID, "text", s.deps.Redactor.Text(u.Text),
		"confidence", u.Confidence, "language", u.Language)
	s.emit(Event{Kind: EventUtterance, Text: u.Text})
	s.apply(s.classifier.Classify(u), job{admitted: at})
}

func (s *Session) onBargeIn(at time.Time) {
	if s.active == nil {
		s.logger.Debug("barge_in_ignored", "reason", "agent idle")
		return
	}
	s.interrupted.Store(s.active.id, struct{}{})
	s.active.cancel(errBargeIn)
	if spec := s.pipeline.Speculator(); spec != nil {
		spec.Reset()
	}
	metrics.Count(s.obs, metrics.EventBargeIn, s.tags())
	s.logger.Info("barge_in", "turn_id", s.active.id, "at", at)
	s.emit(Event{Kind: EventBargeIn, TurnID: s.active.id, At: at})
	s.apply(conversation.Event{Kind: conversation.EventBargeIn}, job{})
}

// apply runs ev through the machine and executes the resulting actions.
// Speak, ExecuteTool and GenerateResponse are collected into one turn.
func (s *Session) apply(ev conversation.Event, j job) {
	before := s.machine.State()
	actions := s.machine.Apply(ev)
	after := s.machine.State()
	if before != after {
		metrics.Count(s.obs, metrics.EventStateTransition, map[string]string{"session_id": s.id, "from": before.Kind.String(), "to": after.Kind.String()})
		s.logger.Info("state_transition", "from", before.String(), "to", after.String(), "event", ev.Kind.String())
		s.emit(Event{Kind: EventTransition, From: before.String(), To: after.String()})
	}

	checkpoint := 0
	for _, a := range actions {
		s.emit(Event{Kind: EventAction, Action: a})
		switch a.Kind {
		case conversation.ActionCheckpoint:
			checkpoint = a.Seq
		case conversation.ActionSpeak:
			j.steps = append(j.steps, step{speak: a.Text})
		case conversation.ActionGenerateResponse:
			j.steps = append(j.steps, step{generate: &a})
		case conversation.ActionExecuteTool:
			j.tools = append(j.tools, tools.Invocation{CallID: uuid.NewString(), Name: a.Tool, Args: a.Args})
		case conversation.ActionEndConversation:
			s.ending = true
			s.logger.Info("conversation_ended", "outcome", string(a.Outcome))
		case conversation.ActionEscalate:
			s.logger.Info("escalation_requested", "to", a.To, "reason", a.Reason)
		case conversation.ActionScheduleFollowUp:
			s.logger.Info("follow_up_scheduled", "after", a.After.String(), "note", a.Reason)
		case conversation.ActionDiagnostic:
			metrics.Count(s.obs, metrics.EventStateDiagnostic, s.tags())
			s.logger.Debug("state_diagnostic", "message", a.Text)
		}
	}
	if j.empty() || s.torn {
		return
	}
	s.startTurn(j, checkpoint)
}

func (s *Session) retrievalOptions() retrieval.Options {
	_, c := s.machine.Snapshot()
	return retrieval.Options{TopK: s.cfg.Generation.RetrievalTopK, Language: c.Language}
}

func (s *Session) startTurn(j job, checkpoint int) {
	stage, c := s.machine.Snapshot()
	snap, err := generation.NewSnapshot(stage, c)
	if err != nil {
		s.logger.Warn("snapshot_failed", "error", err)
		snap = generation.Snapshot{Stage: stage.String(), Language: c.Language}
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancelCause(s.ctx)
	s.active = &activeTurn{id: id, cancel: cancel, checkpoint: checkpoint, started: time.Now()}
	s.controller.SetAgentSpeaking(true, time.Now())
	metrics.Count(s.obs, metrics.EventTurnStarted, s.tags())
	s.emit(Event{Kind: EventTurnStarted, TurnID: id})

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer cancel(nil)
		turnCtx, stop := context.WithTimeout(ctx, s.cfg.TurnTimeout)
		res := s.runTurn(turnCtx, id, snap, j)
		res.cause = context.Cause(turnCtx)
		stop()
		_ = s.inbox.PushHigh(s.ctx, command{kind: cmdTurnDone, result: res})
	}()
}

// runTurn executes one job off the supervisor loop. Machine-requested
// tools run first so generation sees their results.
func (s *Session) runTurn(ctx context.Context, id string, snap generation.Snapshot, j job) (res turnResult) {
	res = turnResult{id: id, recovery: j.recovery, admitted: j.admitted}
	defer func() {
		if r := recover(); r != nil {
			res.err = errorsx.FatalSession(errorsx.Wrap(fmt.Errorf("turn panic: %v", r), errorsx.ReasonPanic))
		}
	}()
	base := generation.Turn{ID: id, SessionID: s.id, Snapshot: snap}
	if len(j.tools) > 0 {
		res.tools = s.bridge.Execute(ctx, j.tools)
	}
	for _, st := range j.steps {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}
		start := time.Now()
		var (
			out generation.Outcome
			err error
		)
		if st.generate != nil {
			t := base
			t.Query, t.Topic = st.generate.Query, st.generate.Topic
			t.ToolResults = res.tools
			out, err = s.pipeline.Run(ctx, t)
		} else {
			out, err = s.pipeline.Speak(ctx, base, st.speak)
		}
		if res.firstAudio.IsZero() && out.FirstAudio > 0 {
			res.firstAudio = start.Add(out.FirstAudio)
		}
		if text := out.Text(); text != "" {
			res.spoken = append(res.spoken, text)
		}
		res.tools = append(res.tools, out.ToolResults...)
		res.cancelled = res.cancelled || out.Cancelled
		if err != nil {
			res.err = err
			return res
		}
	}
	return res
}

func (s *Session) onTurnDone(res turnResult) {
	if s.active == nil || s.active.id != res.id {
		return
	}
	active := s.active
	s.active = nil
	s.controller.SetAgentSpeaking(false, time.Now())
	heard := strings.Join(res.spoken, " ")
	s.emit(Event{Kind: EventTurnEnded, TurnID: res.id, Text: heard, Cancelled: res.cancelled, Err: res.err})

	switch {
	case res.err == nil:
		metrics.Timing(s.obs, metrics.EventTurnCompleted, time.Since(active.started), s.tags())
		if !res.admitted.IsZero() && !res.firstAudio.IsZero() {
			metrics.Timing(s.obs, metrics.EventTTFA, res.firstAudio.Sub(res.admitted), s.tags())
		}
		s.settle(res, heard)
	case errors.Is(res.cause, errBargeIn):
		metrics.Count(s.obs, metrics.EventTurnCancelled, s.tags())
		s.settle(res, heard)
	case errorsx.Classify(res.err) == errorsx.ClassFatalSession:
		s.teardown(res.err)
		return
	case errors.Is(res.err, context.DeadlineExceeded) && !res.recovery:
		metrics.Count(s.obs, metrics.EventTurnTimeout, s.tags())
		s.logger.Warn("turn_timeout", "turn_id", res.id, "timeout", s.cfg.TurnTimeout.String())
		s.settle(res, heard)
		s.apply(conversation.Event{Kind: conversation.EventTimeout}, job{recovery: true})
	case s.ctx.Err() != nil:
		return
	default:
		metrics.Count(s.obs, metrics.EventTurnFailed, map[string]string{"session_id": s.id, "reason": string(errorsx.Reason(res.err))})
		s.logger.Error("turn_failed", "turn_id", res.id, "class", errorsx.Classify(res.err).String(), "error", res.err)
		s.emit(Event{Kind: EventError, TurnID: res.id, Err: res.err})
		if res.recovery {
			break
		}
		if cp, ok := s.machine.RollbackTo(active.checkpoint); ok {
			metrics.Count(s.obs, metrics.EventCheckpointRevert, s.tags())
			s.emit(Event{Kind: EventRollback, TurnID: res.id, To: cp.State.String()})
		}
		s.apply(conversation.Event{Kind: conversation.EventTurnFailed, Reason: res.err.Error()}, job{recovery: true})
	}
	s.admitNext()
}

// settle folds what actually happened in a turn back into the machine:
// tool outcomes first, then the reply as the caller heard it.
func (s *Session) settle(res turnResult, heard string) {
	for _, r := range res.tools {
		s.emit(Event{Kind: EventToolFinished, TurnID: res.id, Text: r.Name, Err: resultErr(r)})
		s.apply(conversation.Event{Kind: conversation.EventToolResult, CallID: r.CallID, ToolName: r.Name, ToolOK: r.OK()}, job{})
	}
	if heard != "" {
		s.apply(conversation.Event{Kind: conversation.EventAgentReplied, Reply: heard}, job{})
	}
}

func resultErr(r tools.Result) error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

func (s *Session) admitNext() {
	if s.active != nil || s.ending || s.torn || len(s.deferred) == 0 {
		return
	}
	u := s.deferred[0]
	s.deferred = s.deferred[1:]
	s.onUtterance(u, time.Now())
}

// teardown stops every worker and turn, records the call and closes the
// session's queues. It runs on the supervisor loop.
func (s *Session) teardown(cause error) {
	if s.torn {
		return
	}
	s.torn = true
	if cause != nil {
		s.fail(cause)
		s.logger.Error("session_failed", "class", errorsx.Classify(cause).String(), "error", cause)
		s.emit(Event{Kind: EventError, Err: cause})
	}
	if s.active != nil {
		s.active.cancel(errSessionClosed)
	}
	s.cancel()
	s.jobs.Wait()
	s.active = nil

	if !s.machine.State().IsTerminal() && s.machine.State().Kind != conversation.StageIdle {
		s.apply(conversation.Event{Kind: conversation.EventCallEnded}, job{})
	}
	stage, c := s.machine.Snapshot()
	if cause != nil {
		c.Outcome = conversation.OutcomeError
	}
	s.saveSummary(stage, c)

	s.audio.Close()
	s.transcripts.Close()
	s.signals.Close()
	if s.streamer != nil {
		if err := s.streamer.Close(); err != nil {
			s.logger.Warn("stt_close_failed", "error", err)
		}
	}
	_ = s.workers.Wait()
	s.egress.Close()
	s.inbox.Close()

	metrics.Timing(s.obs, metrics.EventSessionClosed, time.Since(s.created), map[string]string{"session_id": s.id, "outcome": string(c.Outcome)})
	s.logger.Info("session_closed", "outcome", string(c.Outcome), "stage", stage.String(), "turns", c.TurnCount)
	s.emit(Event{Kind: EventClosed, Outcome: c.Outcome, Err: cause})
	s.events.Close()
	for _, fn := range s.onClose {
		fn(s)
	}
	close(s.done)
}

func (s *Session) saveSummary(stage conversation.Stage, c conversation.Context) {
	if s.customerID == "" || c.TurnCount == 0 {
		return
	}
	sum := summarize(s.cfg.Summary, s.customerID, stage, c)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MemoryTimeout)
	defer cancel()
	status := "ok"
	if err := s.deps.Memory.Save(ctx, sum); err != nil {
		status = "error"
		s.logger.Warn("memory_save_failed", "customer_id", s.customerID, "error", errorsx.Wrap(err, errorsx.ReasonMemory))
	}
	metrics.Count(s.obs, metrics.EventMemory, map[string]string{"op": "save", "status": status})
}
