package frames

const (
	MetaSessionID     = "session_id"
	MetaTurnID        = "turn_id"
	MetaTraceID       = "trace_id"
	MetaSentenceIndex = "sentence_index"
	MetaSource        = "source"
	MetaLanguage      = "language"
	MetaFiller        = "filler"
)
