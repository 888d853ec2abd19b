// Package mock provides a scriptable [recognizer.Recognizer] for unit tests.
//
// The mock does not emit anything on its own except an EventEnd after Stop
// (when AutoEndOnStop is set). Tests drive sessions explicitly with
// [Recognizer.Emit] and helpers such as [Recognizer.EmitFinal].
//
//	rec := mock.New()
//	rec.AutoEndOnStop = true
//	ctrl := voice.New(rec, ...)
//	rec.EmitStart()
//	rec.EmitFinal("hey sathi")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sadaksathi/pkg/recognizer"
)

// Recognizer is a mock [recognizer.Recognizer]. It is safe for concurrent use.
type Recognizer struct {
	mu sync.Mutex

	// StartErr, when non-nil, is returned by every Start call.
	StartErr error

	// StopErr, when non-nil, is returned by Stop while a session is live.
	StopErr error

	// AutoEndOnStop makes Stop emit EventEnd for the live session.
	AutoEndOnStop bool

	// StartCalls records the options of every Start call, including failed ones.
	StartCalls []recognizer.StartOptions

	// StopCalls counts Stop calls.
	StopCalls int

	running bool
	events  chan recognizer.Event
}

var _ recognizer.Recognizer = (*Recognizer)(nil)

// New returns a mock with a buffered event channel.
func New() *Recognizer {
	return &Recognizer{events: make(chan recognizer.Event, 64)}
}

// Start implements [recognizer.Recognizer].
func (r *Recognizer) Start(_ context.Context, opts recognizer.StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = append(r.StartCalls, opts)
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.running {
		return recognizer.ErrAlreadyStarted
	}
	r.running = true
	return nil
}

// Stop implements [recognizer.Recognizer].
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.StopCalls++
	if !r.running {
		r.mu.Unlock()
		return recognizer.ErrNotStarted
	}
	err := r.StopErr
	end := r.AutoEndOnStop
	if end {
		r.running = false
	}
	r.mu.Unlock()
	if end {
		r.events <- recognizer.Event{Kind: recognizer.EventEnd}
	}
	return err
}

// Events implements [recognizer.Recognizer].
func (r *Recognizer) Events() <-chan recognizer.Event { return r.events }

// Emit delivers e. An EventEnd marks the session as finished.
func (r *Recognizer) Emit(e recognizer.Event) {
	if e.Kind == recognizer.EventEnd {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}
	r.events <- e
}

// EmitStart delivers an EventStart.
func (r *Recognizer) EmitStart() { r.Emit(recognizer.Event{Kind: recognizer.EventStart}) }

// EmitEnd delivers an EventEnd.
func (r *Recognizer) EmitEnd() { r.Emit(recognizer.Event{Kind: recognizer.EventEnd}) }

// EmitFinal delivers a single final transcript.
func (r *Recognizer) EmitFinal(text string) {
	r.Emit(recognizer.Event{
		Kind:    recognizer.EventResult,
		Results: []recognizer.Result{{Transcript: text, IsFinal: true, Confidence: 1}},
	})
}

// EmitInterim delivers a single non-final transcript.
func (r *Recognizer) EmitInterim(text string) {
	r.Emit(recognizer.Event{
		Kind:    recognizer.EventResult,
		Results: []recognizer.Result{{Transcript: text}},
	})
}

// EmitError delivers an EventError of the given kind.
func (r *Recognizer) EmitError(kind recognizer.ErrorKind) {
	r.Emit(recognizer.Event{Kind: recognizer.EventError, Error: kind})
}

// SetAutoEndOnStop sets AutoEndOnStop while the mock is in use.
func (r *Recognizer) SetAutoEndOnStop(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AutoEndOnStop = v
}

// SetStartErr sets StartErr while the mock is in use.
func (r *Recognizer) SetStartErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartErr = err
}

// Running reports whether a session is live.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Starts returns a copy of StartCalls.
func (r *Recognizer) Starts() []recognizer.StartOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recognizer.StartOptions(nil), r.StartCalls...)
}

// Stops returns StopCalls.
func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StopCalls
}
