// Package session implements the dictation lifecycle: the explicit
// transcription session state machine and the focus-gated controller that
// drives the transcription backends.
package session

import (
	"fmt"
	"sync"
)

// State is a transcription session state.
type State int

const (
	// StateIdle means no backend is active. The dictation toggle may still
	// be on; regaining focus restarts the selected backend.
	StateIdle State = iota

	// StateStarting means a backend is being brought up.
	StateStarting

	// StateListening means the active backend is producing segments.
	StateListening

	// StateReconnecting means the remote backend lost its connection and
	// is re-establishing it. The local backend never enters this state;
	// its in-place restarts are invisible.
	StateReconnecting

	// StateStopped means the session ended, either explicitly or because
	// of a fatal (permission/configuration) failure. Not restarted
	// automatically.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BackendKind identifies which transcription backend a session uses.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendLocal
	BackendRemote
)

// String returns the human-readable name of the backend kind.
func (b BackendKind) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendRemote:
		return "remote"
	default:
		return "none"
	}
}

// validTransitions is the closed transition table. Self-transitions are
// always permitted (and are no-ops), so they are not listed.
var validTransitions = map[State][]State{
	StateIdle:         {StateStarting, StateStopped},
	StateStarting:     {StateListening, StateIdle, StateStopped},
	StateListening:    {StateReconnecting, StateIdle, StateStopped},
	StateReconnecting: {StateListening, StateIdle, StateStopped},
	StateStopped:      {StateStarting, StateIdle},
}

// Session is the explicit state container for one dictation session. The
// controller drives it and the backends report into it; no other component
// mutates it.
//
// Invariant: at most one backend is active per session. Switching backends
// requires a full stop of the previous one before the next starts.
//
// All methods are safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	state   State
	backend BackendKind
}

// NewSession returns a session in [StateIdle] with no backend.
func NewSession() *Session {
	return &Session{state: StateIdle, backend: BackendNone}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend returns the backend the session is bound to.
func (s *Session) Backend() BackendKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// To transitions the session to next, binding it to backend. Returns an
// error when the transition is not in the table; the state is left
// unchanged in that case. A self-transition is a valid no-op.
func (s *Session) To(next State, backend BackendKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next == s.state {
		s.backend = backend
		return nil
	}
	for _, allowed := range validTransitions[s.state] {
		if next == allowed {
			s.state = next
			s.backend = backend
			return nil
		}
	}
	return fmt.Errorf("session: invalid transition %s -> %s", s.state, next)
}
