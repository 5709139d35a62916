package conversation

import (
	"sync"
	"time"
)

// Checkpoint is the (stage, context) pair captured before a transition.
type Checkpoint struct {
	Seq     int
	State   Stage
	Context Context
	Cause   EventKind
	At      time.Time
}

// Machine owns the authoritative conversation state for one session. Only
// the session's transition worker calls Apply and Rollback; readers get
// clones from Snapshot.
type Machine struct {
	rules *Rules
	limit int

	mu    sync.RWMutex
	state Stage
	ctx   Context
	ring  []Checkpoint
	seq   int
}

// NewMachine starts in Idle with an empty context and keeps the last
// limit checkpoints (8 when limit <= 0).
func NewMachine(rules *Rules, limit int) *Machine {
	if rules == nil {
		rules = defaultRules
	}
	if limit <= 0 {
		limit = 8
	}
	return &Machine{
		rules: rules,
		limit: limit,
		state: Idle(),
		ctx:   NewContext(),
	}
}

// Apply runs one event through the transition table. When the event
// changes anything, a checkpoint of the prior state is pushed first and a
// Checkpoint action leads the returned list.
func (m *Machine) Apply(ev Event) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, nc, actions, matched := m.rules.transition(m.state, m.ctx, ev)
	if !matched {
		return actions
	}
	seq := m.pushLocked(ev.Kind)
	m.state, m.ctx = next, nc
	return append([]Action{CheckpointTaken(seq)}, actions...)
}

func (m *Machine) pushLocked(cause EventKind) int {
	m.seq++
	m.ring = append(m.ring, Checkpoint{
		Seq:     m.seq,
		State:   m.state,
		Context: m.ctx.Clone(),
		Cause:   cause,
		At:      time.Now(),
	})
	if len(m.ring) > m.limit {
		m.ring = append([]Checkpoint(nil), m.ring[len(m.ring)-m.limit:]...)
	}
	return m.seq
}

// Rollback restores the most recent checkpoint and drops it from the ring.
func (m *Machine) Rollback() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) == 0 {
		return Checkpoint{}, false
	}
	cp := m.ring[len(m.ring)-1]
	m.ring = m.ring[:len(m.ring)-1]
	m.state, m.ctx = cp.State, cp.Context.Clone()
	return cp, true
}

// RollbackTo restores the checkpoint with the given sequence number and
// discards every later one.
func (m *Machine) RollbackTo(seq int) (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ring) - 1; i >= 0; i-- {
		if m.ring[i].Seq == seq {
			cp := m.ring[i]
			m.ring = m.ring[:i]
			m.state, m.ctx = cp.State, cp.Context.Clone()
			return cp, true
		}
	}
	return Checkpoint{}, false
}

func (m *Machine) State() Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current stage and a private copy of the context.
func (m *Machine) Snapshot() (Stage, Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.ctx.Clone()
}

func (m *Machine) Checkpoints() []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Checkpoint, len(m.ring))
	for i, cp := range m.ring {
		cp.Context = cp.Context.Clone()
		out[i] = cp
	}
	return out
}

// LastCheckpoint returns the newest checkpoint without restoring it.
func (m *Machine) LastCheckpoint() (Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ring) == 0 {
		return Checkpoint{}, false
	}
	cp := m.ring[len(m.ring)-1]
	cp.Context = cp.Context.Clone()
	return cp, true
}

func (m *Machine) Phrases() *Phrasebook { return m.rules.cfg.Phrases }

// Reset returns to Idle with a fresh context and forgets every checkpoint.
// The caller's language survives.
func (m *Machine) Reset() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, nc, actions, _ := m.rules.transition(m.state, m.ctx, Event{Kind: EventReset})
	m.state, m.ctx, m.ring = next, nc, nil
	return actions
}
