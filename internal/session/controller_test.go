package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prepstage/dictation/internal/session"
	"github.com/prepstage/dictation/internal/transcript"
	"github.com/prepstage/dictation/pkg/transcribe"
	"github.com/prepstage/dictation/pkg/transcribe/mock"
)

const waitTimeout = 2 * time.Second

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// harness bundles a controller with observable sinks.
type harness struct {
	ctl     *session.Controller
	local   *mock.Backend
	remote  *mock.Backend
	texts   chan string
	notices chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	newHandle := func() *mock.Handle {
		return &mock.Handle{
			SegmentsResult: make(chan transcribe.Segment, 16),
			StatesResult:   make(chan transcribe.State, 4),
		}
	}
	h := &harness{
		local:   &mock.Backend{NameResult: "local", Handles: []*mock.Handle{newHandle(), newHandle(), newHandle()}},
		remote:  &mock.Backend{NameResult: "remote", Handles: []*mock.Handle{newHandle(), newHandle(), newHandle()}},
		texts:   make(chan string, 64),
		notices: make(chan string, 8),
	}
	h.ctl = session.NewController(context.Background(), session.ControllerConfig{
		Local:    h.local,
		Remote:   h.remote,
		Merger:   transcript.NewMerger(transcript.NewCorrector()),
		Stream:   transcribe.StreamConfig{SampleRate: 16000, Channels: 1},
		OnText:   func(text string) { h.texts <- text },
		OnNotice: func(message string) { h.notices <- message },
	})
	return h
}

func (h *harness) nextText(t *testing.T) string {
	t.Helper()
	select {
	case text := <-h.texts:
		return text
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for text")
		return ""
	}
}

func (h *harness) nextNotice(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-h.notices:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a notice")
		return ""
	}
}

func TestStartDictation_WaitsForFocus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.StartDictation(session.BackendLocal)
	if h.local.CallCountOpen != 0 {
		t.Fatal("backend opened without focus")
	}
	if got := h.ctl.State(); got != session.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}

	h.ctl.Focus()
	if h.local.CallCountOpen != 1 {
		t.Fatal("backend not opened on focus with toggle on")
	}
	if got := h.ctl.State(); got != session.StateStarting {
		t.Fatalf("state = %v, want starting", got)
	}
}

func TestController_SegmentsBecomeCorrectedText(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	handle := h.local.LastHandle()

	handle.StatesResult <- transcribe.StateListening
	waitFor(t, "listening state", func() bool { return h.ctl.State() == session.StateListening })

	handle.SegmentsResult <- transcribe.Segment{Text: "hello wor"}
	if got := h.nextText(t); got != "hello wor" {
		t.Fatalf("interim text = %q", got)
	}
	handle.SegmentsResult <- transcribe.Segment{Text: "hello world", IsFinal: true}
	if got := h.nextText(t); got != "Hello world" {
		t.Fatalf("final text = %q, want %q", got, "Hello world")
	}
}

func TestBlur_StopsBackendAndPreservesToggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	first := h.local.LastHandle()

	h.ctl.Blur()
	if first.CallCountClose == 0 {
		t.Fatal("active handle not closed on blur")
	}
	if got := h.ctl.State(); got != session.StateIdle {
		t.Fatalf("state after blur = %v, want idle", got)
	}

	// The toggle survives the blur: refocusing starts a fresh instance.
	h.ctl.Focus()
	if h.local.CallCountOpen != 2 {
		t.Fatalf("opens after refocus = %d, want 2", h.local.CallCountOpen)
	}
	if h.local.LastHandle() == first {
		t.Fatal("refocus reused the stale handle")
	}
}

func TestBlur_StaleFailureIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	handle := h.local.LastHandle()

	// The failure races the blur and loses: by the time the consumer
	// observes it, the generation has moved on.
	handle.ErrResult = &transcribe.Failure{Kind: transcribe.FailurePermission}
	h.ctl.Blur()

	time.Sleep(20 * time.Millisecond)
	select {
	case msg := <-h.notices:
		t.Fatalf("stale failure produced a notice: %q", msg)
	default:
	}
	if got := h.ctl.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestStopDictation_EntersStoppedAndReleasesBackend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	handle := h.local.LastHandle()

	h.ctl.StopDictation()
	if handle.CallCountClose == 0 {
		t.Fatal("handle not closed on stop")
	}
	if got := h.ctl.State(); got != session.StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}

	// The toggle is off: focus changes no longer start anything.
	h.ctl.Blur()
	h.ctl.Focus()
	if h.local.CallCountOpen != 1 {
		t.Errorf("opens = %d, want 1", h.local.CallCountOpen)
	}
}

func TestStartDictation_SwapClosesOldBackendFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	localHandle := h.local.LastHandle()

	h.ctl.StartDictation(session.BackendRemote)
	if localHandle.CallCountClose == 0 {
		t.Fatal("local handle not closed on backend swap")
	}
	if h.remote.CallCountOpen != 1 {
		t.Fatalf("remote opens = %d, want 1", h.remote.CallCountOpen)
	}
	if got := h.ctl.Backend(); got != session.BackendRemote {
		t.Errorf("session backend = %v, want remote", got)
	}
}

func TestStartDictation_SwapWhileListeningStartsNewBackend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	localHandle := h.local.LastHandle()

	localHandle.StatesResult <- transcribe.StateListening
	waitFor(t, "listening state", func() bool { return h.ctl.State() == session.StateListening })

	// Swapping from a live, listening backend must still bring up the new
	// one, not dead-end with the old handle closed and nothing running.
	h.ctl.StartDictation(session.BackendRemote)
	if localHandle.CallCountClose == 0 {
		t.Fatal("local handle not closed on backend swap")
	}
	if h.remote.CallCountOpen != 1 {
		t.Fatalf("remote opens = %d, want 1", h.remote.CallCountOpen)
	}
	if got := h.ctl.State(); got != session.StateStarting {
		t.Fatalf("state after swap = %v, want starting", got)
	}

	remoteHandle := h.remote.LastHandle()
	remoteHandle.StatesResult <- transcribe.StateListening
	waitFor(t, "remote listening state", func() bool { return h.ctl.State() == session.StateListening })

	remoteHandle.SegmentsResult <- transcribe.Segment{Text: "remote words", IsFinal: true}
	if got := h.nextText(t); got != "Remote words" {
		t.Fatalf("post-swap text = %q, want %q", got, "Remote words")
	}
}

func TestController_CleanStopWhileListeningReturnsToIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendRemote)
	handle := h.remote.LastHandle()

	handle.StatesResult <- transcribe.StateListening
	waitFor(t, "listening state", func() bool { return h.ctl.State() == session.StateListening })

	handle.End() // backend-initiated clean stop
	waitFor(t, "idle state", func() bool { return h.ctl.State() == session.StateIdle })

	// With the session back at idle the restart paths work again.
	waitFor(t, "remote restart on visibility", func() bool {
		h.ctl.VisibilityRegained()
		return h.remote.CallCountOpen == 2
	})
}

func TestController_FatalFailureStopsWithNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	handle := h.local.LastHandle()

	handle.ErrResult = &transcribe.Failure{Kind: transcribe.FailurePermission}
	handle.End()

	notice := h.nextNotice(t)
	if !strings.Contains(strings.ToLower(notice), "microphone") {
		t.Errorf("permission notice = %q", notice)
	}
	waitFor(t, "stopped state", func() bool { return h.ctl.State() == session.StateStopped })

	// Fatal failures switch the toggle off; no automatic retry.
	h.ctl.Blur()
	h.ctl.Focus()
	if h.local.CallCountOpen != 1 {
		t.Errorf("opens = %d, want 1", h.local.CallCountOpen)
	}
}

func TestController_OpenFailureStopsWithNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.remote.OpenErrs = []error{&transcribe.Failure{Kind: transcribe.FailureConfig}}

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendRemote)

	notice := h.nextNotice(t)
	if !strings.Contains(strings.ToLower(notice), "configured") {
		t.Errorf("config notice = %q", notice)
	}
	if got := h.ctl.State(); got != session.StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
}

func TestVisibilityRegained_RestartsRemoteOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendRemote)
	h.remote.LastHandle().End() // backend-initiated clean stop

	waitFor(t, "remote restart on visibility", func() bool {
		h.ctl.VisibilityRegained()
		return h.remote.CallCountOpen == 2
	})
}

func TestVisibilityRegained_NoOpForLocalBackend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	h.local.LastHandle().End()

	// Give the clean stop time to be processed; the local backend must
	// not be restarted by visibility changes.
	time.Sleep(20 * time.Millisecond)
	h.ctl.VisibilityRegained()
	if h.local.CallCountOpen != 1 {
		t.Errorf("opens = %d, want 1", h.local.CallCountOpen)
	}
}

func TestController_NoBackendConfiguredIsConfigFailure(t *testing.T) {
	t.Parallel()

	texts := make(chan string, 1)
	notices := make(chan string, 1)
	ctl := session.NewController(context.Background(), session.ControllerConfig{
		Merger:   transcript.NewMerger(nil),
		OnText:   func(text string) { texts <- text },
		OnNotice: func(message string) { notices <- message },
	})

	ctl.Focus()
	ctl.StartDictation(session.BackendRemote)

	select {
	case <-notices:
	case <-time.After(waitTimeout):
		t.Fatal("missing notice for unconfigured backend")
	}
	if got := ctl.State(); got != session.StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
}

func TestController_UnchangedTextIsNotRepublished(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	handle := h.local.LastHandle()

	handle.SegmentsResult <- transcribe.Segment{Text: "hello world", IsFinal: true}
	if got := h.nextText(t); got != "Hello world" {
		t.Fatalf("final text = %q, want %q", got, "Hello world")
	}

	// A whitespace segment and a redelivered final both leave the merge
	// unchanged; neither may re-publish the same text.
	handle.SegmentsResult <- transcribe.Segment{Text: "   "}
	handle.SegmentsResult <- transcribe.Segment{Text: "hello world", IsFinal: true}

	time.Sleep(20 * time.Millisecond)
	select {
	case text := <-h.texts:
		t.Fatalf("no-op merge re-published %q", text)
	default:
	}
}

func TestController_FreshStartClearsPreviousTranscript(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ctl.Focus()
	h.ctl.StartDictation(session.BackendLocal)
	h.local.LastHandle().SegmentsResult <- transcribe.Segment{Text: "old text", IsFinal: true}
	if got := h.nextText(t); got != "Old text" {
		t.Fatalf("first interval text = %q", got)
	}

	h.ctl.StopDictation()
	h.ctl.StartDictation(session.BackendLocal)
	h.local.LastHandle().SegmentsResult <- transcribe.Segment{Text: "new text", IsFinal: true}
	if got := h.nextText(t); got != "New text" {
		t.Fatalf("second interval text = %q, old text leaked", got)
	}
}
