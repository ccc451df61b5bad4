package session_test

import (
	"testing"

	"github.com/prepstage/dictation/internal/session"
)

func TestTo_ValidTransitions(t *testing.T) {
	t.Parallel()

	steps := []struct {
		next    session.State
		backend session.BackendKind
	}{
		{session.StateStarting, session.BackendLocal},
		{session.StateListening, session.BackendLocal},
		{session.StateReconnecting, session.BackendLocal},
		{session.StateListening, session.BackendLocal},
		{session.StateIdle, session.BackendNone},
		{session.StateStarting, session.BackendRemote},
		{session.StateListening, session.BackendRemote},
		{session.StateStopped, session.BackendNone},
		{session.StateStarting, session.BackendLocal},
	}

	s := session.NewSession()
	for i, step := range steps {
		if err := s.To(step.next, step.backend); err != nil {
			t.Fatalf("step %d: To(%v) failed: %v", i, step.next, err)
		}
		if got := s.State(); got != step.next {
			t.Fatalf("step %d: state = %v, want %v", i, got, step.next)
		}
		if got := s.Backend(); got != step.backend {
			t.Fatalf("step %d: backend = %v, want %v", i, got, step.backend)
		}
	}
}

func TestTo_InvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	t.Parallel()

	invalid := []struct {
		name string
		prep []session.State
		next session.State
	}{
		{name: "idle to listening", next: session.StateListening},
		{name: "idle to reconnecting", next: session.StateReconnecting},
		{name: "starting to reconnecting", prep: []session.State{session.StateStarting}, next: session.StateReconnecting},
		{name: "stopped to listening", prep: []session.State{session.StateStopped}, next: session.StateListening},
		{name: "stopped to reconnecting", prep: []session.State{session.StateStopped}, next: session.StateReconnecting},
	}

	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := session.NewSession()
			for _, st := range tc.prep {
				if err := s.To(st, session.BackendLocal); err != nil {
					t.Fatalf("prep To(%v): %v", st, err)
				}
			}
			before := s.State()
			if err := s.To(tc.next, session.BackendLocal); err == nil {
				t.Fatalf("To(%v) from %v should fail", tc.next, before)
			}
			if got := s.State(); got != before {
				t.Errorf("state changed on rejected transition: %v -> %v", before, got)
			}
		})
	}
}

func TestTo_SelfTransitionIsNoOp(t *testing.T) {
	t.Parallel()

	s := session.NewSession()
	if err := s.To(session.StateIdle, session.BackendNone); err != nil {
		t.Fatalf("self-transition failed: %v", err)
	}
	if err := s.To(session.StateStarting, session.BackendLocal); err != nil {
		t.Fatal(err)
	}
	if err := s.To(session.StateStarting, session.BackendLocal); err != nil {
		t.Fatalf("self-transition failed: %v", err)
	}
}
