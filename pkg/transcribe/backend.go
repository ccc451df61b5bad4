// Package transcribe defines the Backend interface shared by the dictation
// transcription sources.
//
// A backend wraps a speech source (the on-device continuous recognizer or
// the remote streaming transcription service) and exposes a uniform
// handle-per-listening-interval contract. The central abstraction is
// [Handle]: once opened, a handle emits a single ordered stream of
// [Segment] values until it stops, and reports its terminal condition as a
// classified [Failure] rather than a raw error.
//
// Handles are single-use. A stopped handle is never resumed; the lifecycle
// controller always opens a fresh one. The context passed to
// [Backend.Open] is the focus/intent gate: backends retry transient
// failures only while that context is live, and cancelling it cancels any
// pending restart or reconnect.
package transcribe

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// listening interval.
type StreamConfig struct {
	// SampleRate is the capture sample rate in Hz (typically 16000).
	SampleRate int

	// Channels is the number of capture channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the backend use its configured default.
	Language string
}

// Handle represents one open listening interval on a backend.
//
// Within one handle, segment delivery order matches the order results
// arrived from the engine or socket. No ordering holds across handles.
//
// Callers must call Close when the interval ends; failing to do so leaks
// the capture device, socket, and timers owned by the handle. All methods
// are safe for concurrent use.
type Handle interface {
	// Segments returns the ordered stream of transcription results. The
	// channel is closed when the handle stops, either cleanly via Close or
	// because of a fatal failure.
	Segments() <-chan Segment

	// States reports backend health transitions (listening/reconnecting)
	// for UI affordances and the session state machine. The channel is
	// closed together with Segments. Receivers that fall behind may miss
	// intermediate transitions but always observe the latest one.
	States() <-chan State

	// Err returns the terminal failure after Segments has been closed.
	// It returns nil when the handle stopped cleanly (Close was called or
	// the open context was cancelled). Calling Err before Segments closes
	// returns nil.
	Err() *Failure

	// Close stops the interval and releases every owned resource: encoder,
	// capture device, socket, and timers, in that order, best-effort.
	// Close is idempotent and never fails on secondary teardown errors.
	Close() error
}

// Backend is the abstraction over a transcription source.
//
// Implementations must be safe for concurrent use, though the lifecycle
// controller guarantees at most one open handle per backend at a time.
type Backend interface {
	// Open starts a fresh listening interval. The returned handle is live
	// and may emit segments immediately. ctx gates all automatic recovery:
	// once ctx is cancelled the handle stops retrying and winds down.
	//
	// Open returns a *Failure error (not a handle) when the backend cannot
	// start at all for a non-retriable reason: a missing service
	// credential, a denied capture permission, or an unsupported encoder.
	Open(ctx context.Context, cfg StreamConfig) (Handle, error)

	// Name identifies the backend in logs and metrics ("local", "remote").
	Name() string
}
