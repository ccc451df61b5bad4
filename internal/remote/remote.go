// Package remote implements the server-streamed transcription backend.
//
// A [Transcriber] owns the microphone capture, a chunked Opus encoder, and
// a persistent duplex WebSocket to the transcription service. Outbound
// traffic is fixed-duration encoded audio chunks; inbound traffic is JSON
// result messages of the shape
//
//	{"channel": {"alternatives": [{"transcript": "...", "confidence": 0.9}]}, "is_final": true}
//
// which are surfaced as [transcribe.Segment] values.
//
// The backend recovers from every transient failure on its own: a socket
// error or close triggers a full restart of the startup sequence (capture,
// dial, encoder) after an exponential backoff delay, and an idle watchdog
// force-closes connections that stop delivering messages without firing a
// close event. Only a missing service credential, a denied capture
// permission, and an unsupported encoder are terminal.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/prepstage/dictation/internal/observe"
	"github.com/prepstage/dictation/pkg/audio"
	"github.com/prepstage/dictation/pkg/transcribe"
)

const (
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultChunkMs  = 100
	dialTimeout     = 10 * time.Second
)

// errMissingCredential is the terminal failure cause when no service
// credential is configured. Surfaced to the user, never retried.
var errMissingCredential = errors.New("remote: transcription service credential is not configured")

// Option is a functional option for configuring a [Transcriber].
type Option func(*Transcriber)

// WithModel sets the transcription model requested from the service.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code default for new intervals.
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		if language != "" {
			t.language = language
		}
	}
}

// WithChunkDuration sets the duration of audio encoded per outbound chunk,
// in milliseconds. Values are rounded down to the nearest Opus frame
// duration (60 ms ceiling). Default: 100 ms.
func WithChunkDuration(ms int) Option {
	return func(t *Transcriber) {
		if ms > 0 {
			t.chunkMs = ms
		}
	}
}

// WithBackoff sets the reconnect backoff parameters. Defaults: 500 ms
// base, 30 s ceiling.
func WithBackoff(base, max time.Duration) Option {
	return func(t *Transcriber) {
		if base > 0 {
			t.baseDelay = base
		}
		if max > 0 {
			t.maxDelay = max
		}
	}
}

// WithHeartbeat sets the idle watchdog check interval and the inbound-idle
// threshold that forces a reconnect. Defaults: 5 s and 30 s.
func WithHeartbeat(interval, idleThreshold time.Duration) Option {
	return func(t *Transcriber) {
		if interval > 0 {
			t.heartbeatInterval = interval
		}
		if idleThreshold > 0 {
			t.idleThreshold = idleThreshold
		}
	}
}

// WithMetrics attaches a metrics instance. When nil, the package default
// is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) {
		if m != nil {
			t.metrics = m
		}
	}
}

// Transcriber implements [transcribe.Backend] against a streaming
// transcription endpoint.
type Transcriber struct {
	endpoint string
	apiKey   string
	device   audio.Device

	model    string
	language string
	chunkMs  int

	baseDelay         time.Duration
	maxDelay          time.Duration
	heartbeatInterval time.Duration
	idleThreshold     time.Duration

	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ transcribe.Backend = (*Transcriber)(nil)

// New creates a Transcriber for the given streaming endpoint. The
// credential is validated at Open, not here, so a misconfigured instance
// can still be constructed and report a clear failure when dictation is
// actually started.
func New(endpoint, apiKey string, device audio.Device, opts ...Option) *Transcriber {
	t := &Transcriber{
		endpoint:          endpoint,
		apiKey:            apiKey,
		device:            device,
		model:             defaultModel,
		language:          defaultLanguage,
		chunkMs:           defaultChunkMs,
		baseDelay:         defaultBaseDelay,
		maxDelay:          defaultMaxDelay,
		heartbeatInterval: defaultHeartbeatInterval,
		idleThreshold:     defaultIdleThreshold,
		metrics:           observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name implements [transcribe.Backend].
func (t *Transcriber) Name() string { return "remote" }

// Open implements [transcribe.Backend]. Terminal conditions are checked up
// front: a missing credential and an encoder the runtime cannot provide
// are config failures, and a denied capture permission is a permission
// failure. Everything else is retried inside the run loop.
func (t *Transcriber) Open(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Handle, error) {
	if t.apiKey == "" {
		return nil, &transcribe.Failure{Kind: transcribe.FailureConfig, Err: errMissingCredential}
	}
	if cfg.SampleRate <= 0 {
		return nil, &transcribe.Failure{
			Kind: transcribe.FailureConfig,
			Err:  fmt.Errorf("remote: invalid sample rate %d", cfg.SampleRate),
		}
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	// Probe encoder support before anything async happens: an unsupported
	// format is a terminal config failure, not a retry loop.
	if _, err := newChunkEncoder(cfg.SampleRate, channels, t.chunkMs); err != nil {
		return nil, &transcribe.Failure{Kind: transcribe.FailureConfig, Err: err}
	}

	// First device acquisition is synchronous so a permission denial
	// surfaces immediately instead of as a deferred failure.
	capture, err := t.device.Open(ctx, audio.CaptureConfig{SampleRate: cfg.SampleRate, Channels: channels})
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return nil, &transcribe.Failure{Kind: transcribe.FailurePermission, Err: err}
		}
		// Transient device trouble: the run loop re-acquires with backoff.
		slog.Warn("capture open failed, will retry", "err", err)
		capture = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		t:        t,
		cfg:      transcribe.StreamConfig{SampleRate: cfg.SampleRate, Channels: channels, Language: cfg.Language},
		segments: make(chan transcribe.Segment, 64),
		states:   make(chan transcribe.State, 4),
		cancel:   cancel,
	}
	go h.run(runCtx, capture)
	return h, nil
}

// buildURL constructs the streaming endpoint URL for the given interval
// config.
func (t *Transcriber) buildURL(cfg transcribe.StreamConfig) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("remote: parse endpoint: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = t.language
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "opus")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultMessage is the JSON structure of an inbound transcription result.
type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult parses a raw inbound message into a Segment. Returns
// (zero, false) for messages that should be ignored (metadata frames,
// unknown shapes, empty alternative lists).
func parseResult(data []byte) (transcribe.Segment, bool) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return transcribe.Segment{}, false
	}
	if msg.Type != "" && msg.Type != "Results" {
		return transcribe.Segment{}, false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return transcribe.Segment{}, false
	}

	alt := msg.Channel.Alternatives[0]
	return transcribe.Segment{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

// handle is one open listening interval on the remote backend. It
// implements [transcribe.Handle].
type handle struct {
	t   *Transcriber
	cfg transcribe.StreamConfig

	segments chan transcribe.Segment
	states   chan transcribe.State
	cancel   context.CancelFunc

	mu      sync.Mutex
	failure *transcribe.Failure
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

// Close implements [transcribe.Handle]. Cancelling the run context winds
// down the current connection (encoder, capture, socket, timers) and any
// pending reconnect.
func (h *handle) Close() error {
	h.cancel()
	return nil
}

// fail records the terminal failure published via Err.
func (h *handle) fail(f *transcribe.Failure) {
	h.mu.Lock()
	if h.failure == nil {
		h.failure = f
	}
	h.mu.Unlock()
}

// pushState publishes a state transition without blocking: a lagging
// receiver loses intermediate transitions but always sees the latest.
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

// run is the connection supervisor: it executes the startup sequence,
// serves one connection at a time, and schedules at most one reconnect
// between connections.
func (h *handle) run(ctx context.Context, capture audio.Capture) {
	defer close(h.segments)
	defer close(h.states)
	defer func() {
		if capture != nil {
			_ = capture.Close()
		}
	}()

	policy := reconnectPolicy{baseDelay: h.t.baseDelay, maxDelay: h.t.maxDelay}

	for {
		if ctx.Err() != nil {
			return
		}

		// Startup sequence: (1) capture, (2) socket, (3) encoder.
		if capture == nil {
			var err error
			capture, err = h.t.device.Open(ctx, audio.CaptureConfig{
				SampleRate: h.cfg.SampleRate,
				Channels:   h.cfg.Channels,
			})
			if err != nil {
				if errors.Is(err, audio.ErrPermissionDenied) {
					h.fail(&transcribe.Failure{Kind: transcribe.FailurePermission, Err: err})
					return
				}
				if !h.backoff(ctx, &policy, fmt.Errorf("remote: open capture: %w", err)) {
					return
				}
				continue
			}
		}

		conn, err := h.dial(ctx)
		if err != nil {
			if !h.backoff(ctx, &policy, err) {
				return
			}
			continue
		}

		policy.reset()
		h.pushState(transcribe.StateListening)
		slog.Info("remote transcription connected", "endpoint", h.t.endpoint)

		fatal := h.serve(ctx, conn, capture)
		capture = nil
		if fatal != nil {
			h.fail(fatal)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !h.backoff(ctx, &policy, errors.New("remote: connection lost")) {
			return
		}
	}
}

// backoff reports the dropped connection, waits for the policy delay, and
// returns false when the interval was cancelled while waiting.
func (h *handle) backoff(ctx context.Context, policy *reconnectPolicy, cause error) bool {
	delay := policy.next()
	h.pushState(transcribe.StateReconnecting)
	h.t.metrics.Reconnects.Add(ctx, 1)
	slog.Warn("remote transcription reconnecting",
		"attempt", policy.attempt,
		"delay", delay,
		"err", cause,
	)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// dial opens the streaming socket with the service credential.
func (h *handle) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := h.t.buildURL(h.cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+h.t.apiKey)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	start := time.Now()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("remote: dial: %w", err)
	}
	h.t.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	return conn, nil
}

// serve runs one connection to completion: an encoder/writer goroutine, a
// reader loop, and the idle watchdog. It returns a non-nil failure only
// for terminal conditions; a nil return means the connection died
// transiently (or the interval was cancelled) and the caller decides
// whether to reconnect.
//
// Shutdown order is fixed and always fully executes: stop the encoder
// (writer exit), stop the capture device, close the socket, stop the
// watchdog timer.
func (h *handle) serve(ctx context.Context, conn *websocket.Conn, capture audio.Capture) *transcribe.Failure {
	connCtx, cancel := context.WithCancel(ctx)

	var (
		wg       sync.WaitGroup
		hb       heartbeat
		fatalMu  sync.Mutex
		fatalErr *transcribe.Failure
	)
	hb.touch(time.Now())

	setFatal := func(f *transcribe.Failure) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = f
		}
		fatalMu.Unlock()
		cancel()
	}

	// Writer: capture frames → fixed-duration Opus chunks → socket.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		enc, err := newChunkEncoder(h.cfg.SampleRate, h.cfg.Channels, h.t.chunkMs)
		if err != nil {
			setFatal(&transcribe.Failure{Kind: transcribe.FailureConfig, Err: err})
			return
		}

		for {
			select {
			case <-connCtx.Done():
				return
			case frame, ok := <-capture.Frames():
				if !ok {
					// Device failure; the supervisor re-acquires it.
					return
				}
				chunks, err := enc.push(frame.Data)
				if err != nil {
					slog.Warn("audio encode failed", "err", err)
					return
				}
				for _, chunk := range chunks {
					if err := conn.Write(connCtx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				}
			}
		}
	}()

	// Reader: inbound JSON results → segments, feeding the heartbeat.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		for {
			_, msg, err := conn.Read(connCtx)
			if err != nil {
				// Socket close or cancellation — the supervisor handles it.
				return
			}
			hb.touch(time.Now())

			seg, ok := parseResult(msg)
			if !ok {
				continue
			}
			select {
			case h.segments <- seg:
			case <-connCtx.Done():
				return
			}
		}
	}()

	// Idle watchdog: detects silently-dead connections that never fire a
	// close event. Force-closing the socket makes the reader exit, which
	// lands in the normal reconnect path — exactly one reconnect per trip.
	wg.Add(1)
	ticker := time.NewTicker(h.t.heartbeatInterval)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if hb.idleFor(time.Now()) > h.t.idleThreshold {
					h.t.metrics.HeartbeatTimeouts.Add(connCtx, 1)
					slog.Warn("remote transcription idle, forcing reconnect",
						"idle_threshold", h.t.idleThreshold,
					)
					cancel()
					_ = conn.Close(websocket.StatusGoingAway, "idle timeout")
					return
				}
			}
		}
	}()

	<-connCtx.Done()

	// Ordered teardown; every step runs even if an earlier one fails.
	wg.Wait()
	_ = capture.Close()
	_ = conn.Close(websocket.StatusNormalClosure, "interval closed")
	ticker.Stop()
	cancel()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatalErr
}
