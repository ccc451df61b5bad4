package recognizer

import (
	"context"
	"errors"

	"github.com/prepstage/dictation/pkg/audio"
	"github.com/prepstage/dictation/pkg/transcribe"
)

// Engine error sentinels. Engine implementations translate their native
// error conditions into wrapped forms of these values so that [classify]
// never has to inspect error strings.
var (
	// ErrNoSpeech means the engine gave up after hearing no speech.
	ErrNoSpeech = errors.New("recognizer: no speech detected")

	// ErrAborted means the engine aborted the current recognition attempt.
	ErrAborted = errors.New("recognizer: recognition aborted")

	// ErrAudioCapture means the capture device was momentarily unavailable.
	ErrAudioCapture = errors.New("recognizer: audio capture failed")

	// ErrServiceUnavailable means the recognition service backing the
	// engine is temporarily unavailable.
	ErrServiceUnavailable = errors.New("recognizer: service unavailable")

	// ErrNotAllowed means the user denied the capture permission.
	ErrNotAllowed = errors.New("recognizer: capture permission denied")
)

// Alternative is one candidate transcription for a recognition result.
type Alternative struct {
	Transcript string
	Confidence float64
}

// Result is one recognition result emitted by an [Engine]. Engines that
// produce multiple candidate transcriptions list them all; the recognizer
// selects the highest-confidence one.
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
}

// Engine is one live instance of the on-device continuous recognition
// engine. Instances are single-use: the recognizer creates a fresh one per
// listening interval or restart and never reuses a stopped instance.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// Results returns the ordered stream of recognition results. The
	// channel is closed when the engine ends, whether by itself (e.g.
	// after a pause), because of an error, or via Close.
	Results() <-chan Result

	// Err returns the error that ended the engine, or nil for a clean,
	// engine-initiated end. Valid after Results is closed.
	Err() error

	// Close stops the engine and releases its resources. Safe to call
	// more than once.
	Close() error
}

// Starter creates fresh [Engine] instances. It is the seam between the
// recognizer's restart policy and a concrete engine implementation
// (whisperengine in production, a scripted mock in tests).
type Starter interface {
	Start(ctx context.Context, cfg transcribe.StreamConfig) (Engine, error)
}

// classify maps an engine error onto the closed [transcribe.FailureKind]
// variant. All downstream restart/stop decisions match on the returned
// kind, never on the raw error.
func classify(err error) *transcribe.Failure {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotAllowed), errors.Is(err, audio.ErrPermissionDenied):
		return &transcribe.Failure{Kind: transcribe.FailurePermission, Err: err}
	case errors.Is(err, ErrNoSpeech),
		errors.Is(err, ErrAborted),
		errors.Is(err, ErrAudioCapture),
		errors.Is(err, ErrServiceUnavailable):
		return &transcribe.Failure{Kind: transcribe.FailureBenign, Err: err}
	default:
		return &transcribe.Failure{Kind: transcribe.FailureUnknown, Err: err}
	}
}
