// Package portaudio implements the [audio.Device] interface on top of the
// PortAudio C library via the gordonklaus/portaudio bindings.
//
// The PortAudio runtime is initialised lazily on the first Open and shared
// by all captures in the process. Building this package requires CGO and
// the native PortAudio library at link time.
package portaudio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	palib "github.com/gordonklaus/portaudio"

	"github.com/prepstage/dictation/pkg/audio"
)

const defaultFrameDuration = 20 * time.Millisecond

var (
	initOnce    sync.Once
	initialized bool
)

// Device implements [audio.Device] using the default system input stream.
type Device struct{}

// New returns a PortAudio-backed capture device.
func New() *Device { return &Device{} }

// Terminate releases the PortAudio runtime. Call once at process shutdown,
// after all captures are closed. A device that never opened a capture is a
// no-op to terminate.
func (d *Device) Terminate() error {
	if !initialized {
		return nil
	}
	if err := palib.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Open implements [audio.Device]. It initialises PortAudio on first use,
// opens the default input stream in the requested format, and starts a
// reader goroutine that converts int16 sample buffers into [audio.Frame]
// values.
func (d *Device) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: open cancelled: %w", err)
	}

	var initErr error
	initOnce.Do(func() {
		initErr = palib.Initialize()
		initialized = initErr == nil
	})
	if initErr != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w", initErr)
	}

	frameDur := cfg.FrameDuration
	if frameDur <= 0 {
		frameDur = defaultFrameDuration
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	samplesPerFrame := cfg.SampleRate * channels * int(frameDur/time.Millisecond) / 1000

	buf := make([]int16, samplesPerFrame)
	stream, err := palib.OpenDefaultStream(channels, 0, float64(cfg.SampleRate), len(buf)/channels, buf)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyOpenError(err)
	}

	cfg.Channels = channels
	c := &capture{
		stream:   stream,
		buf:      buf,
		frames:   make(chan audio.Frame, 16),
		done:     make(chan struct{}),
		cfg:      cfg,
		frameDur: frameDur,
	}
	go c.readLoop()
	return c, nil
}

// classifyOpenError wraps access-denial errors with
// [audio.ErrPermissionDenied] so callers can classify them. PortAudio does
// not expose a dedicated error code for this, so detection is best-effort
// on the host error text.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("portaudio: open input: %v: %w", err, audio.ErrPermissionDenied)
	}
	return fmt.Errorf("portaudio: open input: %w", err)
}

// capture is a live PortAudio input stream. It implements [audio.Capture].
type capture struct {
	stream   *palib.Stream
	buf      []int16
	frames   chan audio.Frame
	cfg      audio.CaptureConfig
	frameDur time.Duration

	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// Frames implements [audio.Capture].
func (c *capture) Frames() <-chan audio.Frame { return c.frames }

// Err implements [audio.Capture].
func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [audio.Capture]. Secondary stream errors during
// teardown are ignored.
func (c *capture) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.stream.Stop()
		_ = c.stream.Close()
	})
	return nil
}

// readLoop blocks on the PortAudio stream and republishes each filled
// buffer as a frame. A read error records the failure and ends the capture.
func (c *capture) readLoop() {
	defer close(c.frames)

	start := time.Now()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			select {
			case <-c.done:
				// Teardown races the blocking read; not a device failure.
			default:
				c.mu.Lock()
				c.err = fmt.Errorf("portaudio: read: %w", err)
				c.mu.Unlock()
			}
			return
		}

		data := make([]byte, len(c.buf)*2)
		for i, s := range c.buf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}

		frame := audio.Frame{
			Data:       data,
			SampleRate: c.cfg.SampleRate,
			Channels:   c.cfg.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		default:
			// Consumer fell behind; drop the frame rather than stall the
			// device.
		}
	}
}
