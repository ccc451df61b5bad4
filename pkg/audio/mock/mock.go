// Package mock provides in-memory mock implementations of the
// [audio.Device] and [audio.Capture] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts, and they expose exported fields the
// test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.Frame, 16)
//	capture := &mock.Capture{FramesResult: frames}
//	device := &mock.Device{OpenResult: capture}
//	got, err := device.Open(ctx, audio.CaptureConfig{SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/prepstage/dictation/pkg/audio"
)

// Capture is a mock implementation of [audio.Capture].
// Set the exported Result fields before use; inspect the Call* fields after.
type Capture struct {
	mu sync.Mutex

	// FramesResult is returned by [Capture.Frames]. Tests own the channel
	// and decide when to send frames and when to close it.
	FramesResult chan audio.Frame

	// ErrResult is returned by [Capture.Err].
	ErrResult error

	// CloseError is returned by [Capture.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closeOnce sync.Once
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FramesResult == nil {
		c.FramesResult = make(chan audio.Frame)
	}
	return c.FramesResult
}

// Err implements [audio.Capture]. Returns ErrResult.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrResult
}

// Close implements [audio.Capture]. It closes the frames channel on the
// first call and returns CloseError.
func (c *Capture) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	err := c.CloseError
	frames := c.FramesResult
	c.mu.Unlock()

	if frames != nil {
		c.closeOnce.Do(func() { close(frames) })
	}
	return err
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by [Device.Open] when OpenError is nil.
	OpenResult audio.Capture

	// OpenError, when non-nil, is returned by [Device.Open].
	OpenError error

	// OpenFunc, when non-nil, overrides OpenResult/OpenError entirely.
	// Useful for scripting different results per call.
	OpenFunc func(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error)

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// RecordedConfigs holds the configs passed to Open, in order.
	RecordedConfigs []audio.CaptureConfig
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	d.mu.Lock()
	d.CallCountOpen++
	d.RecordedConfigs = append(d.RecordedConfigs, cfg)
	fn := d.OpenFunc
	res, err := d.OpenResult, d.OpenError
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
