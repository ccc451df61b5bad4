// Package recognizer implements the on-device transcription backend.
//
// A [Recognizer] drives a continuous recognition [Engine] and normalises
// its behaviour into the shared [transcribe.Backend] contract: every
// interim and final result becomes a [transcribe.Segment] (selecting the
// highest-confidence alternative), and engine failures are classified into
// the closed failure variant.
//
// Engines that natively time out after a pause are restarted in place, so
// dictation stays continuous. Benign errors also trigger a short-delayed
// restart. Restarts are retried indefinitely while the open context is
// live; the engine's own pacing bounds restart frequency, so no backoff is
// applied. Cancelling the context cancels any pending restart immediately.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prepstage/dictation/internal/observe"
	"github.com/prepstage/dictation/pkg/transcribe"
)

const defaultRestartDelay = 300 * time.Millisecond

// Option is a functional option for configuring a [Recognizer].
type Option func(*Recognizer)

// WithRestartDelay sets the pause before an in-place engine restart.
// Default: 300 ms.
func WithRestartDelay(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.restartDelay = d
		}
	}
}

// WithMetrics attaches a metrics instance for restart counters. When nil,
// the package default is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Recognizer implements [transcribe.Backend] on top of an engine
// [Starter].
type Recognizer struct {
	starter      Starter
	restartDelay time.Duration
	metrics      *observe.Metrics
}

// Compile-time interface assertion.
var _ transcribe.Backend = (*Recognizer)(nil)

// New creates a Recognizer that obtains engine instances from starter.
func New(starter Starter, opts ...Option) *Recognizer {
	r := &Recognizer{
		starter:      starter,
		restartDelay: defaultRestartDelay,
		metrics:      observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name implements [transcribe.Backend].
func (r *Recognizer) Name() string { return "local" }

// Open implements [transcribe.Backend]. The first engine instance is
// started synchronously so that permission failures surface immediately;
// subsequent restarts happen inside the handle's run loop.
func (r *Recognizer) Open(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Handle, error) {
	eng, err := r.starter.Start(ctx, cfg)
	if err != nil {
		f := classify(err)
		if f.Kind.Fatal() {
			return nil, f
		}
		// Transient start failure: open the handle anyway and let the run
		// loop keep retrying.
		slog.Warn("local engine start failed, will retry", "err", err)
		eng = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		segments: make(chan transcribe.Segment, 64),
		states:   make(chan transcribe.State, 4),
		cancel:   cancel,
	}
	go h.run(runCtx, r, cfg, eng)
	return h, nil
}

// handle is one open listening interval on the local backend. It
// implements [transcribe.Handle].
type handle struct {
	segments chan transcribe.Segment
	states   chan transcribe.State
	cancel   context.CancelFunc

	mu      sync.Mutex
	failure *transcribe.Failure
	closed  bool
}

// Segments implements [transcribe.Handle].
func (h *handle) Segments() <-chan transcribe.Segment { return h.segments }

// States implements [transcribe.Handle].
func (h *handle) States() <-chan transcribe.State { return h.states }

// Err implements [transcribe.Handle].
func (h *handle) Err() *transcribe.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// Close implements [transcribe.Handle]. It cancels the run loop, which
// winds down the current engine and any pending restart.
func (h *handle) Close() error {
	h.cancel()
	return nil
}

// run drives engine instances until the interval ends. eng may be nil when
// the initial start failed transiently.
func (h *handle) run(ctx context.Context, r *Recognizer, cfg transcribe.StreamConfig, eng Engine) {
	defer close(h.segments)
	defer close(h.states)

	for {
		if eng == nil {
			if !sleepCtx(ctx, r.restartDelay) {
				return
			}
			var err error
			eng, err = r.starter.Start(ctx, cfg)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f := classify(err)
				if f.Kind.Fatal() {
					h.fail(f)
					return
				}
				slog.Warn("local engine restart failed, will retry", "kind", f.Kind.String(), "err", err)
				eng = nil
				continue
			}
		}

		h.pushState(transcribe.StateListening)
		h.consume(ctx, eng)
		_ = eng.Close()

		if ctx.Err() != nil {
			return
		}

		if err := eng.Err(); err != nil {
			f := classify(err)
			if f.Kind.Fatal() {
				h.fail(&transcribe.Failure{
					Kind: f.Kind,
					Err:  fmt.Errorf("local engine stopped: %w", err),
				})
				return
			}
			slog.Debug("local engine ended with transient error, restarting", "kind", f.Kind.String(), "err", err)
		} else {
			// Engine-initiated end (e.g. after a pause). Restarting here is
			// what keeps dictation continuous.
			slog.Debug("local engine ended, restarting")
		}
		r.metrics.EngineRestarts.Add(ctx, 1)
		eng = nil
	}
}

// consume forwards engine results as segments until the engine ends or the
// interval is cancelled.
func (h *handle) consume(ctx context.Context, eng Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-eng.Results():
			if !ok {
				return
			}
			alt, ok := bestAlternative(res)
			if !ok {
				continue
			}
			seg := transcribe.Segment{
				Text:       alt.Transcript,
				IsFinal:    res.IsFinal,
				Confidence: alt.Confidence,
			}
			select {
			case h.segments <- seg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fail records the terminal failure published via Err.
func (h *handle) fail(f *transcribe.Failure) {
	h.mu.Lock()
	h.failure = f
	h.mu.Unlock()
}

// pushState publishes a state transition without blocking: when the
// receiver lags, the oldest queued state is dropped in favour of the new
// one.
func (h *handle) pushState(s transcribe.State) {
	for {
		select {
		case h.states <- s:
			return
		default:
		}
		select {
		case <-h.states:
		default:
		}
	}
}

// bestAlternative selects the highest-confidence alternative with non-empty
// text.
func bestAlternative(res Result) (Alternative, bool) {
	var best Alternative
	found := false
	for _, alt := range res.Alternatives {
		if alt.Transcript == "" {
			continue
		}
		if !found || alt.Confidence > best.Confidence {
			best = alt
			found = true
		}
	}
	return best, found
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false when
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
