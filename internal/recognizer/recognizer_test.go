package recognizer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prepstage/dictation/internal/recognizer"
	"github.com/prepstage/dictation/internal/recognizer/mock"
	"github.com/prepstage/dictation/pkg/transcribe"
)

const waitTimeout = 2 * time.Second

// collectSegment reads one segment from h or fails the test.
func collectSegment(t *testing.T, h transcribe.Handle) transcribe.Segment {
	t.Helper()
	select {
	case seg, ok := <-h.Segments():
		if !ok {
			t.Fatal("segments channel closed unexpectedly")
		}
		return seg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a segment")
	}
	return transcribe.Segment{}
}

// waitClosed waits for the segments channel to drain and close.
func waitClosed(t *testing.T, h transcribe.Handle) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-h.Segments():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for segments channel to close")
		}
	}
}

func result(text string, isFinal bool) recognizer.Result {
	return recognizer.Result{
		Alternatives: []recognizer.Alternative{{Transcript: text, Confidence: 1}},
		IsFinal:      isFinal,
	}
}

func TestOpen_ForwardsInterimAndFinalSegments(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{Engines: []*mock.Engine{{
		Script: []recognizer.Result{
			result("hel", false),
			result("hello", true),
		},
		Hold: true,
	}}}
	r := recognizer.New(starter)

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	seg := collectSegment(t, h)
	if seg.Text != "hel" || seg.IsFinal {
		t.Errorf("first segment = %+v, want interim %q", seg, "hel")
	}
	seg = collectSegment(t, h)
	if seg.Text != "hello" || !seg.IsFinal {
		t.Errorf("second segment = %+v, want final %q", seg, "hello")
	}
}

func TestOpen_PicksHighestConfidenceAlternative(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{Engines: []*mock.Engine{{
		Script: []recognizer.Result{{
			Alternatives: []recognizer.Alternative{
				{Transcript: "their", Confidence: 0.4},
				{Transcript: "there", Confidence: 0.9},
				{Transcript: "", Confidence: 0.99},
			},
			IsFinal: true,
		}},
		Hold: true,
	}}}
	r := recognizer.New(starter)

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	seg := collectSegment(t, h)
	if seg.Text != "there" {
		t.Errorf("segment text = %q, want %q", seg.Text, "there")
	}
	if seg.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", seg.Confidence)
	}
}

func TestOpen_RestartsEngineAfterCleanEnd(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{Engines: []*mock.Engine{
		{Script: []recognizer.Result{result("first utterance", true)}},
		{Script: []recognizer.Result{result("second utterance", true)}, Hold: true},
	}}
	r := recognizer.New(starter, recognizer.WithRestartDelay(time.Millisecond))

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if seg := collectSegment(t, h); seg.Text != "first utterance" {
		t.Fatalf("first segment = %q", seg.Text)
	}
	if seg := collectSegment(t, h); seg.Text != "second utterance" {
		t.Fatalf("segment after restart = %q", seg.Text)
	}
	if starter.CallCountStart != 2 {
		t.Errorf("engine starts = %d, want 2", starter.CallCountStart)
	}
}

func TestOpen_RestartsAfterBenignError(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{Engines: []*mock.Engine{
		{EndErr: recognizer.ErrNoSpeech},
		{Script: []recognizer.Result{result("back again", true)}, Hold: true},
	}}
	r := recognizer.New(starter, recognizer.WithRestartDelay(time.Millisecond))

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if seg := collectSegment(t, h); seg.Text != "back again" {
		t.Fatalf("segment after restart = %q", seg.Text)
	}
	if h.Err() != nil {
		t.Errorf("benign error must not surface: %v", h.Err())
	}
}

func TestOpen_FatalStartErrorReturnsFailure(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{
		StartErrs: []error{fmt.Errorf("mic: %w", recognizer.ErrNotAllowed)},
	}
	r := recognizer.New(starter)

	_, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})

	var failure *transcribe.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *transcribe.Failure, got %v", err)
	}
	if failure.Kind != transcribe.FailurePermission {
		t.Errorf("kind = %v, want FailurePermission", failure.Kind)
	}
}

func TestOpen_TransientStartErrorIsRetried(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{
		StartErrs: []error{recognizer.ErrServiceUnavailable},
		Engines: []*mock.Engine{
			{Script: []recognizer.Result{result("recovered", true)}, Hold: true},
		},
	}
	r := recognizer.New(starter, recognizer.WithRestartDelay(time.Millisecond))

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("transient start error must not fail Open: %v", err)
	}
	defer h.Close()

	if seg := collectSegment(t, h); seg.Text != "recovered" {
		t.Fatalf("segment = %q", seg.Text)
	}
	if starter.CallCountStart != 2 {
		t.Errorf("engine starts = %d, want 2", starter.CallCountStart)
	}
}

func TestOpen_FatalEngineErrorStopsAndSurfaces(t *testing.T) {
	t.Parallel()

	starter := &mock.Starter{Engines: []*mock.Engine{{
		Script: []recognizer.Result{result("partial", false)},
		EndErr: fmt.Errorf("mic revoked: %w", recognizer.ErrNotAllowed),
	}}}
	r := recognizer.New(starter, recognizer.WithRestartDelay(time.Millisecond))

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	waitClosed(t, h)

	failure := h.Err()
	if failure == nil {
		t.Fatal("expected a terminal failure")
	}
	if failure.Kind != transcribe.FailurePermission {
		t.Errorf("kind = %v, want FailurePermission", failure.Kind)
	}
	if starter.CallCountStart != 1 {
		t.Errorf("engine starts = %d, want 1 (no restart after fatal)", starter.CallCountStart)
	}
}

func TestClose_EndsTheInterval(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Hold: true}
	starter := &mock.Starter{Engines: []*mock.Engine{eng}}
	r := recognizer.New(starter)

	h, err := r.Open(context.Background(), transcribe.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitClosed(t, h)

	if h.Err() != nil {
		t.Errorf("clean close must not record a failure: %v", h.Err())
	}
}
