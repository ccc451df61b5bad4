// Package mock provides scripted implementations of the
// [recognizer.Engine] and [recognizer.Starter] interfaces for unit tests.
//
// A mock [Engine] replays a fixed script of results, then ends with a
// configurable error. A mock [Starter] hands out a queue of engines, one
// per Start call, so tests can script restart sequences.
package mock

import (
	"context"
	"sync"

	"github.com/prepstage/dictation/internal/recognizer"
	"github.com/prepstage/dictation/pkg/transcribe"
)

// Engine is a scripted implementation of [recognizer.Engine].
type Engine struct {
	// Script is the sequence of results the engine emits after Start.
	Script []recognizer.Result

	// EndErr is returned by Err after the script is exhausted. nil models
	// an engine-initiated clean end.
	EndErr error

	// Hold, when true, keeps the results channel open after the script is
	// exhausted until Close is called. Use this to model an engine that
	// keeps listening.
	Hold bool

	mu        sync.Mutex
	results   chan recognizer.Result
	finished  bool
	closeOnce sync.Once
	done      chan struct{}

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// start begins replaying the script. Called by [Starter.Start].
func (e *Engine) start() {
	e.results = make(chan recognizer.Result, len(e.Script)+1)
	e.done = make(chan struct{})
	go func() {
		defer close(e.results)
		for _, res := range e.Script {
			select {
			case e.results <- res:
			case <-e.done:
				return
			}
		}
		e.mu.Lock()
		e.finished = true
		e.mu.Unlock()
		if e.Hold {
			<-e.done
		}
	}()
}

// Results implements [recognizer.Engine].
func (e *Engine) Results() <-chan recognizer.Result { return e.results }

// Err implements [recognizer.Engine]. The scripted EndErr is reported only
// when the script ran to completion; a Close that preempts the script
// models a deliberate stop and reports nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		return nil
	}
	return e.EndErr
}

// Close implements [recognizer.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	e.CallCountClose++
	e.mu.Unlock()
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

// Starter is a scripted implementation of [recognizer.Starter]. Each Start
// call consumes the next queued engine or error.
type Starter struct {
	mu sync.Mutex

	// Engines are handed out in order, one per Start call.
	Engines []*Engine

	// StartErrs, when non-nil at the current call index, is returned
	// instead of an engine.
	StartErrs []error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// RecordedConfigs holds the configs passed to Start, in order.
	RecordedConfigs []transcribe.StreamConfig
}

// Start implements [recognizer.Starter].
func (s *Starter) Start(ctx context.Context, cfg transcribe.StreamConfig) (recognizer.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.CallCountStart
	s.CallCountStart++
	s.RecordedConfigs = append(s.RecordedConfigs, cfg)

	if idx < len(s.StartErrs) && s.StartErrs[idx] != nil {
		return nil, s.StartErrs[idx]
	}
	if idx-startErrCount(s.StartErrs, idx) < len(s.Engines) {
		eng := s.Engines[idx-startErrCount(s.StartErrs, idx)]
		eng.start()
		return eng, nil
	}
	// Script exhausted: hand out an empty engine that stays open.
	eng := &Engine{Hold: true}
	eng.start()
	return eng, nil
}

// startErrCount counts scripted errors before call index idx.
func startErrCount(errs []error, idx int) int {
	n := 0
	for i := 0; i < idx && i < len(errs); i++ {
		if errs[i] != nil {
			n++
		}
	}
	return n
}
