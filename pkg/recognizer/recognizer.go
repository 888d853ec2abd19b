// Package recognizer defines the streaming speech-recognition primitive the
// voice controller drives.
//
// A [Recognizer] runs at most one session at a time. Start returns as soon as
// the session was requested; everything else is reported asynchronously on
// the [Recognizer.Events] channel, mirroring the usual platform semantics:
//
//	EventStart  → session is live
//	EventResult → one or more transcripts, interim or final
//	EventError  → the session failed; an EventEnd always follows
//	EventEnd    → the session is over (stopped, timed out, or failed)
//
// Every Start that returned nil is eventually followed by exactly one
// EventEnd.
package recognizer

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyStarted is returned by Start while a session is still live or
	// winding down.
	ErrAlreadyStarted = errors.New("recognizer: already started")

	// ErrNotStarted is returned by Stop when no session is live.
	ErrNotStarted = errors.New("recognizer: not started")
)

// StartOptions configures a recognition session.
type StartOptions struct {
	// Language is the BCP-47 recognition language (e.g. "en", "ne").
	Language string

	// Continuous keeps the session open across utterances. When false the
	// session ends after the first final result or a silence timeout.
	Continuous bool

	// InterimResults requests non-final hypotheses as well.
	InterimResults bool
}

// EventKind classifies an [Event].
type EventKind int

const (
	EventStart EventKind = iota
	EventResult
	EventError
	EventEnd
)

// String returns the lower-case event name.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// ErrorKind is the platform error code carried by an EventError.
type ErrorKind string

const (
	ErrNoSpeech          ErrorKind = "no-speech"
	ErrAborted           ErrorKind = "aborted"
	ErrAudioCapture      ErrorKind = "audio-capture"
	ErrNetwork           ErrorKind = "network"
	ErrNotAllowed        ErrorKind = "not-allowed"
	ErrServiceNotAllowed ErrorKind = "service-not-allowed"
	ErrUnknown           ErrorKind = "unknown"
)

// Terminal reports whether the error means recognition is not permitted and
// retrying is pointless until the user intervenes.
func (k ErrorKind) Terminal() bool {
	return k == ErrNotAllowed || k == ErrServiceNotAllowed
}

// Result is one transcript hypothesis.
type Result struct {
	Transcript string
	IsFinal    bool
	Confidence float64
}

// Event is delivered on [Recognizer.Events].
type Event struct {
	Kind EventKind

	// Results is set for EventResult.
	Results []Result

	// Error and Err are set for EventError. Err carries the underlying cause
	// when there is one.
	Error ErrorKind
	Err   error
}

// FinalTranscript concatenates the final results of e.
func (e Event) FinalTranscript() string {
	var s string
	for _, r := range e.Results {
		if r.IsFinal {
			s += r.Transcript
		}
	}
	return s
}

// Recognizer is a streaming speech recognizer.
//
// Implementations must be safe for concurrent use. The Events channel is owned
// by the recognizer, lives as long as it does and is shared by all sessions.
type Recognizer interface {
	// Start requests a new session. It returns ErrAlreadyStarted while a
	// previous session has not yet delivered its EventEnd.
	Start(ctx context.Context, opts StartOptions) error

	// Stop ends the live session. The EventEnd follows asynchronously.
	// Returns ErrNotStarted when nothing is running.
	Stop() error

	// Events returns the event stream.
	Events() <-chan Event
}
