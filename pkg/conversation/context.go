package conversation

import "maps"

// Slot is one filled piece of customer information.
type Slot struct {
	Value      string
	Confidence float64
	Turn       int
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	Role Role
	Text string
}

// Context is the per-session scratch space. It is owned by the Machine and
// changed only through Transition; everybody else works on clones.
type Context struct {
	Slots         map[string]Slot
	TurnCount     int
	History       []Message
	LastIntent    string
	LastObjection ObjectionKind
	Language      string
	Outcome       Outcome
	// Misses counts consecutive turns the agent failed to understand.
	Misses int
	// PriorSummary is the summary of the caller's previous session, if any.
	PriorSummary string
}

func NewContext() Context {
	return Context{Slots: make(map[string]Slot)}
}

// Clone returns a deep copy. Nil collections stay nil.
func (c Context) Clone() Context {
	out := c
	if c.Slots != nil {
		out.Slots = maps.Clone(c.Slots)
	}
	if c.History != nil {
		out.History = append(make([]Message, 0, len(c.History)), c.History...)
	}
	return out
}

func (c Context) Slot(key string) (Slot, bool) {
	s, ok := c.Slots[key]
	return s, ok
}

func (c Context) SlotValue(key string) string {
	return c.Slots[key].Value
}

// SlotValues flattens the slots for prompts and summaries.
func (c Context) SlotValues() map[string]string {
	out := make(map[string]string, len(c.Slots))
	for k, s := range c.Slots {
		out[k] = s.Value
	}
	return out
}

// AppendHistory adds a message, keeping at most limit entries.
func (c *Context) AppendHistory(m Message, limit int) {
	if m.Text == "" {
		return
	}
	c.History = append(c.History, m)
	if limit > 0 && len(c.History) > limit {
		c.History = append([]Message(nil), c.History[len(c.History)-limit:]...)
	}
}

// mergeSlots keeps the existing value unless the new one is at least as
// confident. It returns the keys that changed, sorted by the caller.
func (c *Context) mergeSlots(slots map[string]Slot, turn int) []string {
	if len(slots) == 0 {
		return nil
	}
	if c.Slots == nil {
		c.Slots = make(map[string]Slot, len(slots))
	}
	var changed []string
	for k, s := range slots {
		if s.Value == "" {
			continue
		}
		prev, ok := c.Slots[k]
		if ok && (prev.Value == s.Value || prev.Confidence > s.Confidence) {
			continue
		}
		s.Turn = turn
		c.Slots[k] = s
		changed = append(changed, k)
	}
	return changed
}
