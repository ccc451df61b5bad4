// Package mock provides scripted implementations of the
// [transcribe.Backend] and [transcribe.Handle] interfaces for unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// tests can assert on call counts, and expose exported fields the test can
// set to control behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/prepstage/dictation/pkg/transcribe"
)

// Handle is a mock implementation of [transcribe.Handle]. Tests feed
// segments and states through the exported channels; Close closes both.
type Handle struct {
	mu sync.Mutex

	// SegmentsResult is returned by Segments. Allocated lazily when nil.
	SegmentsResult chan transcribe.Segment

	// StatesResult is returned by States. Allocated lazily when nil.
	StatesResult chan transcribe.State

	// ErrResult is returned by Err.
	ErrResult *transcribe.Failure

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closeOnce sync.Once
}

// Segments implements [transcribe.Handle].
func (h *Handle) Segments() <-chan transcribe.Segment {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SegmentsResult == nil {
		h.SegmentsResult = make(chan transcribe.Segment, 16)
	}
	return h.SegmentsResult
}

// States implements [transcribe.Handle].
func (h *Handle) States() <-chan transcribe.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StatesResult == nil {
		h.StatesResult = make(chan transcribe.State, 4)
	}
	return h.StatesResult
}

// Err implements [transcribe.Handle].
func (h *Handle) Err() *transcribe.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ErrResult
}

// Close implements [transcribe.Handle]. The first call closes both
// channels, ending a consumer that drains them.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.CallCountClose++
	err := h.CloseError
	segs, states := h.SegmentsResult, h.StatesResult
	h.mu.Unlock()

	h.closeOnce.Do(func() {
		if segs != nil {
			close(segs)
		}
		if states != nil {
			close(states)
		}
	})
	return err
}

// End closes the handle's channels without counting as a Close call,
// modelling a backend-initiated stop. Set ErrResult first to model a
// fatal failure.
func (h *Handle) End() {
	h.mu.Lock()
	segs, states := h.SegmentsResult, h.StatesResult
	h.mu.Unlock()

	h.closeOnce.Do(func() {
		if segs != nil {
			close(segs)
		}
		if states != nil {
			close(states)
		}
	})
}

// Backend is a mock implementation of [transcribe.Backend]. Each Open
// call consumes the next queued handle or error.
type Backend struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// Handles are handed out in order, one per Open call. When the queue
	// is exhausted a fresh empty Handle is handed out.
	Handles []*Handle

	// OpenErrs, when non-nil at the current call index, is returned
	// instead of a handle.
	OpenErrs []error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// RecordedConfigs holds the configs passed to Open, in order.
	RecordedConfigs []transcribe.StreamConfig

	handled int
}

// Name implements [transcribe.Backend].
func (b *Backend) Name() string {
	if b.NameResult == "" {
		return "mock"
	}
	return b.NameResult
}

// Open implements [transcribe.Backend].
func (b *Backend) Open(_ context.Context, cfg transcribe.StreamConfig) (transcribe.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.CallCountOpen
	b.CallCountOpen++
	b.RecordedConfigs = append(b.RecordedConfigs, cfg)

	if idx < len(b.OpenErrs) && b.OpenErrs[idx] != nil {
		return nil, b.OpenErrs[idx]
	}
	if b.handled < len(b.Handles) {
		h := b.Handles[b.handled]
		b.handled++
		return h, nil
	}
	return &Handle{}, nil
}

// LastHandle returns the most recently handed-out scripted handle, or nil
// when none was handed out yet.
func (b *Backend) LastHandle() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handled == 0 {
		return nil
	}
	return b.Handles[b.handled-1]
}
