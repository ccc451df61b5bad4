// Package whisperengine implements the [recognizer.Engine] interface on
// top of the whisper.cpp CGO bindings.
//
// A [Factory] loads the whisper model once and creates one engine instance
// per listening interval. Each instance owns its own audio capture and a
// single processing goroutine that buffers speech, detects silence by RMS
// energy, and flushes completed utterances through a fresh whisper context.
// Every flush emits the utterance text as an interim result immediately
// followed by a final result.
//
// The whisper.cpp static library (libwhisper.a) and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisperengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/prepstage/dictation/internal/recognizer"
	"github.com/prepstage/dictation/pkg/audio"
	"github.com/prepstage/dictation/pkg/transcribe"
)

const (
	defaultLanguage          = "en"
	defaultSilenceThreshold  = 500 * time.Millisecond
	defaultMaxBufferDuration = 10 * time.Second
	defaultNoSpeechTimeout   = 15 * time.Second
	defaultRMSThreshold      = 500.0
	bitsPerSample            = 16
)

// Option is a functional option for configuring a [Factory].
type Option func(*Factory)

// WithLanguage sets the transcription language code (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(f *Factory) {
		if lang != "" {
			f.language = lang
		}
	}
}

// WithSilenceThreshold sets the consecutive-silence duration that triggers
// a flush of the accumulated speech buffer. Default: 500 ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.silenceThreshold = d
		}
	}
}

// WithMaxBufferDuration sets the maximum buffered audio duration before a
// forced flush. Default: 10 s.
func WithMaxBufferDuration(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.maxBufferDuration = d
		}
	}
}

// WithNoSpeechTimeout sets how long an instance listens without hearing any
// speech before it ends itself with [recognizer.ErrNoSpeech] (the
// recognizer restarts it). Zero disables the timeout. Default: 15 s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(f *Factory) {
		f.noSpeechTimeout = d
	}
}

// Factory creates whisper-backed engine instances. It implements
// [recognizer.Starter]. The model is loaded once and shared by all
// instances; whisper contexts are created per flush because a context is
// not goroutine-safe.
type Factory struct {
	model  whisperlib.Model
	device audio.Device

	language          string
	silenceThreshold  time.Duration
	maxBufferDuration time.Duration
	noSpeechTimeout   time.Duration
}

// Compile-time interface assertion.
var _ recognizer.Starter = (*Factory)(nil)

// NewFactory loads the whisper model from modelPath and returns a Factory
// that captures audio from device. The caller must call Close when the
// factory is no longer needed.
func NewFactory(modelPath string, device audio.Device, opts ...Option) (*Factory, error) {
	if modelPath == "" {
		return nil, errors.New("whisperengine: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisperengine: load model %q: %w", modelPath, err)
	}

	f := &Factory{
		model:             model,
		device:            device,
		language:          defaultLanguage,
		silenceThreshold:  defaultSilenceThreshold,
		maxBufferDuration: defaultMaxBufferDuration,
		noSpeechTimeout:   defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Close releases the whisper model.
func (f *Factory) Close() error {
	if f.model != nil {
		return f.model.Close()
	}
	return nil
}

// Start implements [recognizer.Starter]. It acquires a fresh capture for
// the new instance; a denied capture permission is reported via
// [recognizer.ErrNotAllowed] so the recognizer treats it as fatal.
func (f *Factory) Start(ctx context.Context, cfg transcribe.StreamConfig) (recognizer.Engine, error) {
	capt, err := f.device.Open(ctx, audio.CaptureConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return nil, fmt.Errorf("whisperengine: %v: %w", err, recognizer.ErrNotAllowed)
		}
		return nil, fmt.Errorf("whisperengine: open capture: %v: %w", err, recognizer.ErrAudioCapture)
	}

	lang := cfg.Language
	if lang == "" {
		lang = f.language
	}

	e := &engine{
		factory:    f,
		capture:    capt,
		language:   lang,
		sampleRate: cfg.SampleRate,
		channels:   max(cfg.Channels, 1),
		results:    make(chan recognizer.Result, 16),
		done:       make(chan struct{}),
	}
	e.wg.Add(1)
	go e.processLoop()
	return e, nil
}

// engine is one live whisper recognition instance. It implements
// [recognizer.Engine]. All silence-detection and buffering state is
// confined to the processLoop goroutine.
type engine struct {
	factory    *Factory
	capture    audio.Capture
	language   string
	sampleRate int
	channels   int

	results chan recognizer.Result

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Results implements [recognizer.Engine].
func (e *engine) Results() <-chan recognizer.Result { return e.results }

// Err implements [recognizer.Engine].
func (e *engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close implements [recognizer.Engine]. It stops the capture first so the
// processing goroutine unblocks, then waits for it to flush and exit.
func (e *engine) Close() error {
	e.once.Do(func() {
		close(e.done)
		_ = e.capture.Close()
		e.wg.Wait()
	})
	return nil
}

// fail records the terminal error reported via Err.
func (e *engine) fail(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

// processLoop buffers speech frames, flushes on silence or buffer
// overflow, and enforces the no-speech timeout.
func (e *engine) processLoop() {
	defer e.wg.Done()
	defer close(e.results)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
		quiet     time.Duration
	)

	bytesPerMs := e.sampleRate * e.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := int(e.factory.maxBufferDuration/time.Millisecond) * bytesPerMs

	flush := func() {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silence = 0
			return
		}
		pcm := buffer
		buffer = nil
		hadSpeech = false
		silence = 0

		text, err := e.infer(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		e.emit(recognizer.Result{
			Alternatives: []recognizer.Alternative{{Transcript: text, Confidence: 1}},
		})
		e.emit(recognizer.Result{
			Alternatives: []recognizer.Alternative{{Transcript: text, Confidence: 1}},
			IsFinal:      true,
		})
	}

	for {
		select {
		case <-e.done:
			flush()
			return

		case frame, ok := <-e.capture.Frames():
			if !ok {
				flush()
				if capErr := e.capture.Err(); capErr != nil {
					e.fail(fmt.Errorf("whisperengine: capture stopped: %v: %w", capErr, recognizer.ErrAudioCapture))
				}
				return
			}

			frameDur := pcmDuration(len(frame.Data), e.sampleRate, e.channels)

			if rms(frame.Data) < defaultRMSThreshold {
				quiet += frameDur
				if hadSpeech {
					silence += frameDur
					buffer = append(buffer, frame.Data...)
					if silence >= e.factory.silenceThreshold {
						flush()
					}
				} else if e.factory.noSpeechTimeout > 0 && quiet >= e.factory.noSpeechTimeout {
					e.fail(recognizer.ErrNoSpeech)
					return
				}
			} else {
				quiet = 0
				hadSpeech = true
				silence = 0
				buffer = append(buffer, frame.Data...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					flush()
				}
			}
		}
	}
}

// emit delivers a result without blocking teardown.
func (e *engine) emit(res recognizer.Result) {
	select {
	case e.results <- res:
	case <-e.done:
	}
}

// infer converts buffered PCM to float32 mono, runs whisper.cpp inference
// in a fresh context, and returns the concatenated segment text.
func (e *engine) infer(pcm []byte) (string, error) {
	samples := pcmToFloat32Mono(pcm, e.channels)

	wctx, err := e.factory.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisperengine: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisperengine: failed to set language, using default", "language", e.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisperengine: process audio: %w", err)
	}

	var text string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisperengine: read segment: %w", err)
		}
		if text != "" {
			text += " "
		}
		text += segment.Text
	}
	return text, nil
}

// rms computes the root-mean-square energy of little-endian int16 PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// pcmDuration returns the playback duration of byteLen bytes of int16 PCM.
func pcmDuration(byteLen, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * (bitsPerSample / 8)
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(byteLen) * time.Second / time.Duration(bytesPerSecond)
}

// pcmToFloat32Mono converts little-endian int16 PCM to float32 samples in
// [-1, 1], downmixing to mono by channel averaging.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, 0, frames)
	for i := 0; i < frames; i++ {
		var acc float32
		for c := 0; c < channels; c++ {
			idx := (i*channels + c) * 2
			s := int16(pcm[idx]) | int16(pcm[idx+1])<<8
			acc += float32(s) / 32768
		}
		out = append(out, acc/float32(channels))
	}
	return out
}
