package conversation

type StageKind int

const (
	StageIdle StageKind = iota
	StageGreeting
	StageDiscovery
	StageNeedsAnalysis
	StagePitch
	StageComparison
	StageObjectionHandling
	StageClosing
	StageConverted
	StageFollowUp
	StageDeclined
	StageEscalated
)

var stageNames = map[StageKind]string{
	StageIdle:              "idle",
	StageGreeting:          "greeting",
	StageDiscovery:         "discovery",
	StageNeedsAnalysis:     "needs_analysis",
	StagePitch:             "pitch",
	StageComparison:        "comparison",
	StageObjectionHandling: "objection_handling",
	StageClosing:           "closing",
	StageConverted:         "converted",
	StageFollowUp:          "follow_up",
	StageDeclined:          "declined",
	StageEscalated:         "escalated",
}

func (k StageKind) String() string {
	if name, ok := stageNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal stages end the session and absorb every event but Reset.
func (k StageKind) Terminal() bool {
	switch k {
	case StageConverted, StageFollowUp, StageDeclined, StageEscalated:
		return true
	}
	return false
}

type ObjectionKind string

const (
	ObjectionNone        ObjectionKind = ""
	ObjectionRate        ObjectionKind = "rate"
	ObjectionTrust       ObjectionKind = "trust"
	ObjectionTiming      ObjectionKind = "timing"
	ObjectionCompetition ObjectionKind = "competition"
	ObjectionProcess     ObjectionKind = "process"
	ObjectionSafety      ObjectionKind = "safety"
	ObjectionOther       ObjectionKind = "other"
)

// Stage is the tagged conversation state. Objection is set only for
// ObjectionHandling; Detail carries the payload of the terminal variants
// (conversion detail, follow-up note, decline or escalation reason).
type Stage struct {
	Kind      StageKind
	Objection ObjectionKind
	Detail    string
}

func Idle() Stage          { return Stage{Kind: StageIdle} }
func Greeting() Stage      { return Stage{Kind: StageGreeting} }
func Discovery() Stage     { return Stage{Kind: StageDiscovery} }
func NeedsAnalysis() Stage { return Stage{Kind: StageNeedsAnalysis} }
func Pitch() Stage         { return Stage{Kind: StagePitch} }
func Comparison() Stage    { return Stage{Kind: StageComparison} }
func Closing() Stage       { return Stage{Kind: StageClosing} }

func ObjectionHandling(kind ObjectionKind) Stage {
	if kind == ObjectionNone {
		kind = ObjectionOther
	}
	return Stage{Kind: StageObjectionHandling, Objection: kind}
}

func Converted(detail string) Stage { return Stage{Kind: StageConverted, Detail: detail} }
func FollowUp(note string) Stage    { return Stage{Kind: StageFollowUp, Detail: note} }
func Declined(reason string) Stage  { return Stage{Kind: StageDeclined, Detail: reason} }
func Escalated(reason string) Stage { return Stage{Kind: StageEscalated, Detail: reason} }

func (s Stage) IsTerminal() bool { return s.Kind.Terminal() }

func (s Stage) String() string {
	switch {
	case s.Kind == StageObjectionHandling:
		return s.Kind.String() + "(" + string(s.Objection) + ")"
	case s.Kind.Terminal() && s.Detail != "":
		return s.Kind.String() + "(" + s.Detail + ")"
	default:
		return s.Kind.String()
	}
}

// Outcome is how a conversation ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeConverted Outcome = "converted"
	OutcomeFollowUp  Outcome = "follow_up"
	OutcomeDeclined  Outcome = "declined"
	OutcomeEscalated Outcome = "escalated"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeError     Outcome = "error"
)

func outcomeFor(s Stage) Outcome {
	switch s.Kind {
	case StageConverted:
		return OutcomeConverted
	case StageFollowUp:
		return OutcomeFollowUp
	case StageDeclined:
		return OutcomeDeclined
	case StageEscalated:
		return OutcomeEscalated
	}
	return OutcomeNone
}
