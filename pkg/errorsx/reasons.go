package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect       ReasonCode = "stt_connect"
	ReasonSTTSend          ReasonCode = "stt_send"
	ReasonSTTLowConfidence ReasonCode = "stt_low_confidence"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSynthesize  ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMStream      ReasonCode = "llm_stream"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonRetrieval ReasonCode = "retrieval"
	ReasonToolCall  ReasonCode = "tool_call"

	ReasonTurnTimeout ReasonCode = "turn_timeout"
	ReasonBusClosed   ReasonCode = "bus_closed"
	ReasonPanic       ReasonCode = "panic"
	ReasonMemory      ReasonCode = "memory"

	ReasonTransportProtocol ReasonCode = "transport_protocol"
	ReasonTransportRejected ReasonCode = "transport_rejected"
)
