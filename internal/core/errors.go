package core

// Error codes for domain errors. Codes are stable strings so the
// presentation layer can branch without matching message text.
const (
	ErrCodeTransientNetwork   = "transient_network"
	ErrCodeRejectedAction     = "rejected_action"
	ErrCodeInvalidState       = "invalid_state"
	ErrCodeNegotiationTimeout = "negotiation_timeout"
	ErrCodeNegotiationError   = "negotiation_error"
	ErrCodeStaleEvent         = "stale_event"
	ErrCodeConcurrentCall     = "concurrent_call"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

var (
	// ErrInvalidState marks a local contract violation (e.g. accepting a
	// call that is not ringing). The intent is dropped and logged.
	ErrInvalidState = &CoreError{Code: ErrCodeInvalidState, Message: "invalid state"}
	// ErrConcurrentCall is returned when a second call is started for a
	// conversation that already has a live session.
	ErrConcurrentCall = &CoreError{Code: ErrCodeConcurrentCall, Message: "call already in progress"}
	// ErrNegotiationFailed wraps media-layer failures during call setup.
	ErrNegotiationFailed = &CoreError{Code: ErrCodeNegotiationError, Message: "negotiation failed"}
)
