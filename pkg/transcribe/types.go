package transcribe

import "fmt"

// Segment represents one incremental transcription result emitted by a
// backend. Both interim and final results use this type.
type Segment struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// result. Final segments close the current utterance in the merger.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the backend does not report confidence.
	Confidence float64
}

// FailureKind classifies a backend failure. Backends translate every raw
// engine or transport error into exactly one of these values so downstream
// logic never has to match on error strings.
type FailureKind int

const (
	// FailureBenign covers transient conditions (no speech detected,
	// momentary capture hiccup, socket drop, idle timeout). Backends recover
	// from these automatically; they are never surfaced to the user.
	FailureBenign FailureKind = iota

	// FailurePermission means the user denied access to the capture device.
	// Terminal for the current attempt; surfaced as an actionable message.
	FailurePermission

	// FailureConfig means the backend is missing required configuration
	// (service credential, unsupported encoder). Terminal; surfaced; never
	// retried.
	FailureConfig

	// FailureUnknown is any unclassified error. Treated as benign for retry
	// purposes but logged at a higher level.
	FailureUnknown
)

// String returns the human-readable name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureBenign:
		return "benign"
	case FailurePermission:
		return "permission"
	case FailureConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Fatal reports whether the failure kind terminates the session rather than
// triggering an automatic restart or reconnect.
func (k FailureKind) Fatal() bool {
	return k == FailurePermission || k == FailureConfig
}

// Failure is the only error type that crosses the backend/session boundary.
// It wraps the underlying cause with a [FailureKind] classification.
type Failure struct {
	Kind FailureKind
	Err  error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("transcribe: %s failure", f.Kind)
	}
	return fmt.Sprintf("transcribe: %s failure: %v", f.Kind, f.Err)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// State describes the health of an open backend handle as reported on
// [Handle.States]. The local backend only ever reports StateListening (its
// in-place engine restarts are invisible); the remote backend alternates
// between StateListening and StateReconnecting as its socket drops and
// recovers.
type State int

const (
	// StateListening means the backend is connected and producing segments.
	StateListening State = iota

	// StateReconnecting means the backend lost its connection and is
	// re-establishing it with backoff.
	StateReconnecting
)

// String returns the human-readable name of the state.
func (s State) String() string {
	if s == StateReconnecting {
		return "reconnecting"
	}
	return "listening"
}
