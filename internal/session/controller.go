package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prepstage/dictation/internal/observe"
	"github.com/prepstage/dictation/internal/transcript"
	"github.com/prepstage/dictation/pkg/transcribe"
)

// User-facing messages for the fatal failure classes. Benign failures are
// never surfaced.
const (
	noticePermission = "Microphone access is blocked. Allow microphone access and start dictation again."
	noticeConfig     = "Dictation is not configured. Check the transcription service settings."
)

// ControllerConfig configures a [Controller].
type ControllerConfig struct {
	// Local and Remote are the two transcription backends. Either may be
	// nil when not available; starting an unavailable backend fails with a
	// config notice.
	Local  transcribe.Backend
	Remote transcribe.Backend

	// Merger combines backend segments into the committed text. Required.
	Merger *transcript.Merger

	// Stream is the audio format requested from backends.
	Stream transcribe.StreamConfig

	// OnText receives every committed-text candidate. The consumer owns
	// rendering. Required.
	OnText func(text string)

	// OnNotice receives user-facing messages for fatal failures. May be
	// nil.
	OnNotice func(message string)

	// Metrics is optional; the package default is used when nil.
	Metrics *observe.Metrics
}

// Controller is the focus-gated dictation lifecycle controller: the only
// component that starts or stops a backend.
//
// Every inbound event from a backend handle passes two checks before it is
// acted on: processing must be enabled, and the event's originating handle
// generation must match the current one. Blur flips processing off and
// bumps the generation *before* tearing down, closing the race between
// async backend callbacks and teardown.
//
// All methods are safe for concurrent use.
type Controller struct {
	cfg     ControllerConfig
	session *Session
	metrics *observe.Metrics

	mu         sync.Mutex
	focused    bool
	toggled    bool
	selected   BackendKind
	processing bool
	gen        uint64
	handle     transcribe.Handle
	cancel     context.CancelFunc
	baseCtx    context.Context
	lastText   string
}

// NewController creates a controller bound to ctx; cancelling ctx (e.g.
// component teardown) releases any active backend.
func NewController(ctx context.Context, cfg ControllerConfig) *Controller {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{
		cfg:     cfg,
		session: NewSession(),
		metrics: m,
		baseCtx: ctx,
	}
}

// State returns the current session state for UI affordances.
func (c *Controller) State() State { return c.session.State() }

// Backend returns the backend kind the session is bound to.
func (c *Controller) Backend() BackendKind { return c.session.Backend() }

// StartDictation enables dictation on the given backend. If a different
// backend is active it is fully stopped first; no segment from the old
// instance is accepted once the swap begins. The backend actually starts
// only while the input surface is focused.
func (c *Controller) StartDictation(kind BackendKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && kind != c.selected {
		c.teardownLocked()
	}
	c.toggled = true
	c.selected = kind

	if c.focused && c.handle == nil {
		c.startLocked()
	}
}

// StopDictation disables dictation and releases all backend resources.
func (c *Controller) StopDictation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toggled = false
	c.teardownLocked()
	_ = c.session.To(StateStopped, BackendNone)
}

// Focus reports that the input surface gained focus. A previously-selected
// backend restarts fresh; a stale engine instance is never resumed.
func (c *Controller) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.focused = true
	if c.toggled && c.handle == nil {
		c.startLocked()
	}
}

// Blur reports that the input surface lost focus. Processing is disabled
// before teardown begins, so an in-flight event from the backend is
// discarded even if teardown has not completed. The toggle intent is
// preserved for the next focus.
func (c *Controller) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.focused = false
	c.teardownLocked()
	_ = c.session.To(StateIdle, BackendNone)
}

// VisibilityRegained reports that a backgrounded surface became visible
// again. Relevant for the remote backend only: when its handle is gone
// (e.g. torn down while hidden) and dictation is still intended, a fresh
// connection is started.
func (c *Controller) VisibilityRegained() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected == BackendRemote && c.focused && c.toggled && c.handle == nil {
		c.startLocked()
	}
}

// startLocked opens a fresh handle on the selected backend. Must be called
// with c.mu held.
func (c *Controller) startLocked() {
	backend := c.backendForLocked(c.selected)
	if backend == nil {
		c.notice(noticeConfig)
		_ = c.session.To(StateStopped, BackendNone)
		c.toggled = false
		return
	}

	if err := c.session.To(StateStarting, c.selected); err != nil {
		slog.Warn("dictation start rejected", "err", err)
		return
	}

	// A fresh interval shows no leftover text from before the last stop.
	c.cfg.Merger.Reset()
	c.lastText = ""

	ctx, cancel := context.WithCancel(c.baseCtx)
	h, err := backend.Open(ctx, c.cfg.Stream)
	if err != nil {
		cancel()
		c.handleFatalLocked(err)
		return
	}

	c.gen++
	c.processing = true
	c.handle = h
	c.cancel = cancel
	c.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("dictation started", "backend", backend.Name())
	go c.consume(h, c.gen)
}

// teardownLocked stops the active handle and fences out its in-flight
// events. Must be called with c.mu held. Safe to call when nothing is
// active.
func (c *Controller) teardownLocked() {
	// Order matters: disable processing and bump the generation first so
	// events racing the teardown are dropped.
	c.processing = false
	c.gen++

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.handle != nil {
		h := c.handle
		c.handle = nil
		_ = h.Close()
		c.metrics.ActiveSessions.Add(c.baseCtx, -1)
		// With no backend active the session is idle again; callers that
		// mean Stopped transition on top of this.
		_ = c.session.To(StateIdle, BackendNone)
	}
}

// backendForLocked resolves a backend kind to its instance.
func (c *Controller) backendForLocked(kind BackendKind) transcribe.Backend {
	switch kind {
	case BackendLocal:
		return c.cfg.Local
	case BackendRemote:
		return c.cfg.Remote
	default:
		return nil
	}
}

// handleFatalLocked translates a fatal open/stop failure into the Stopped
// state and a user notice. Must be called with c.mu held.
func (c *Controller) handleFatalLocked(err error) {
	var f *transcribe.Failure
	if !errors.As(err, &f) {
		f = &transcribe.Failure{Kind: transcribe.FailureUnknown, Err: err}
	}

	slog.Error("dictation failed", "kind", f.Kind.String(), "err", f.Err)
	_ = c.session.To(StateStopped, BackendNone)
	// Fatal failures are not retried automatically; the user must act and
	// re-enable dictation.
	c.toggled = false

	switch f.Kind {
	case transcribe.FailurePermission:
		c.notice(noticePermission)
	case transcribe.FailureConfig:
		c.notice(noticeConfig)
	}
}

// notice delivers a user-facing message when a sink is configured.
func (c *Controller) notice(message string) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(message)
	}
}

// consume is the single event loop for one handle. gen identifies the
// handle instance: events are dropped unless processing is enabled and gen
// still matches, which makes "was this event meant for the current
// session" an explicit guarded check instead of an implicit race.
func (c *Controller) consume(h transcribe.Handle, gen uint64) {
	segs := h.Segments()
	states := h.States()

	for segs != nil || states != nil {
		select {
		case seg, ok := <-segs:
			if !ok {
				segs = nil
				continue
			}
			c.onSegment(seg, gen)
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.onState(st, gen)
		}
	}

	c.onStopped(h, gen)
}

// onSegment merges one segment and publishes the committed text. A merge
// that leaves the committed text unchanged (whitespace, a rejected
// candidate, a redelivered final) publishes nothing; the consumer already
// shows that text.
func (c *Controller) onSegment(seg transcribe.Segment, gen uint64) {
	c.mu.Lock()
	if !c.processing || gen != c.gen {
		c.mu.Unlock()
		return
	}
	text := c.cfg.Merger.Merge(seg)
	changed := text != c.lastText
	if changed {
		c.lastText = text
	}
	c.mu.Unlock()

	c.metrics.Segments.Add(c.baseCtx, 1, observe.WithBackend(c.session.Backend().String(), seg.IsFinal))
	if changed {
		c.cfg.OnText(text)
	}
}

// onState forwards a backend health transition into the state machine.
func (c *Controller) onState(st transcribe.State, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.processing || gen != c.gen {
		return
	}

	switch st {
	case transcribe.StateListening:
		_ = c.session.To(StateListening, c.selected)
	case transcribe.StateReconnecting:
		_ = c.session.To(StateReconnecting, c.selected)
	}
}

// onStopped handles a handle that stopped on its own. A clean stop returns
// the session to Idle so a later focus or visibility change can start a
// fresh instance; a fatal failure moves it to Stopped and notifies the
// user.
func (c *Controller) onStopped(h transcribe.Handle, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// A newer instance took over; this stop is history.
		return
	}

	f := h.Err()
	if c.handle != nil {
		c.handle = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.processing = false
		c.metrics.ActiveSessions.Add(c.baseCtx, -1)
	}
	if f != nil {
		c.handleFatalLocked(f)
		return
	}
	_ = c.session.To(StateIdle, BackendNone)
}
