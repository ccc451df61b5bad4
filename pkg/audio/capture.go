// Package audio defines the interfaces and types for microphone capture
// within the dictation pipeline.
//
// The two primary abstractions are:
//
//   - [Device] — opens the system audio input and returns a [Capture].
//   - [Capture] — an active capture stream delivering PCM frames until
//     closed.
//
// Implementations are provided by adapter packages (e.g. audio/portaudio).
// The interfaces are intentionally narrow so the transcription backends
// stay decoupled from the capture SDK, and so tests can substitute the mock
// package.
//
// This package lives under pkg/ because external capture adapters are
// expected to implement [Device] and [Capture].
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Device.Open] when the user or the
// operating system denied access to the audio input. Implementations must
// wrap this sentinel so callers can classify the failure.
var ErrPermissionDenied = errors.New("audio: input permission denied")

// Frame represents a single captured chunk of PCM audio.
type Frame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture
	// start.
	Timestamp time.Duration
}

// CaptureConfig describes the requested capture format.
type CaptureConfig struct {
	// SampleRate is the capture sample rate in Hz.
	SampleRate int

	// Channels is the number of capture channels. 1 = mono.
	Channels int

	// FrameDuration is the duration of audio delivered per [Frame].
	// Defaults to 20 ms when zero.
	FrameDuration time.Duration
}

// Capture is an active audio input stream.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Frames returns the read-only channel of captured PCM frames. The
	// channel is closed when the capture stops, either via Close or because
	// the device failed.
	Frames() <-chan Frame

	// Err returns the device failure that stopped the capture, or nil when
	// the capture was closed deliberately. Valid after Frames is closed.
	Err() error

	// Close stops the capture and releases the device. Safe to call more
	// than once.
	Close() error
}

// Device is the entry point for an audio input provider.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open acquires the audio input and starts capturing with the given
	// format. The supplied ctx governs the lifetime of the open attempt
	// only; once open, the Capture remains alive until Close is called.
	//
	// Returns an error wrapping [ErrPermissionDenied] when access to the
	// input is denied.
	Open(ctx context.Context, cfg CaptureConfig) (Capture, error)
}
