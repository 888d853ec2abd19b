// Package voice runs the hands-free listening loop.
//
// A [Controller] alternates a single [recognizer.Recognizer] between two
// modes: continuous wake-word listening and single-utterance command capture.
// It restarts itself after unexpected session ends, backs off when sessions
// churn, and shuts the feature off for good when the platform denies
// microphone or service access.
//
// State machine:
//
//	idle ──enable──▶ wake-word ──wake phrase──▶ command ──final/timeout──▶ idle
//	  ▲                  │                                                │
//	  └──── restart ◀────┴───────────── unexpected end ◀──────────────────┘
//
// All platform events, user requests and restart timers are serialised on
// one goroutine ([Controller.Run]); there is never more than one Start in
// flight.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/pkg/recognizer"
)

// State is the controller's listening state.
type State string

const (
	StateIdle     State = "idle"
	StateWakeWord State = "wake-word"
	StateCommand  State = "command"
)

// Translation keys of user-visible messages emitted through the [Notifier].
const (
	KeyErrorGeneric     = "voice_error_generic"
	KeyErrorNetwork     = "voice_error_network"
	KeyErrorPermission  = "voice_error_permission"
	KeyErrorAudio       = "voice_error_audio"
	KeyWakeAcknowledged = "wakeWordAcknowledged"
)

const (
	defaultRestartDelay = 100 * time.Millisecond
	defaultMinSession   = 500 * time.Millisecond
)

// Clock abstracts time for the restart and churn logic.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Handler receives every final command utterance. It runs on its own
// goroutine and may block.
type Handler func(ctx context.Context, utterance string)

// Notifier receives the translation key of a user-visible message.
type Notifier func(key string)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithRestartDelay sets the pause before restarting after an unexpected end.
// Default: 100ms.
func WithRestartDelay(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.restartDelay = d
		}
	}
}

// WithMinSession sets the churn threshold: a session ending sooner than d
// after it started stops auto-restart. Default: 500ms.
func WithMinSession(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.minSession = d
		}
	}
}

// WithWakeMatcher sets the wake phrase matcher. Default: substring only.
func WithWakeMatcher(m *WakeMatcher) Option {
	return func(ctl *Controller) { ctl.matcher = m }
}

// WithHandler sets the command handler.
func WithHandler(h Handler) Option {
	return func(ctl *Controller) { ctl.handler = h }
}

// WithNotifier sets the user-visible message sink.
func WithNotifier(n Notifier) Option {
	return func(ctl *Controller) { ctl.notify = n }
}

// WithAcknowledge sets a callback run when the wake phrase is heard, before
// command capture starts. It is called on the event loop and must not block.
func WithAcknowledge(fn func(ctx context.Context)) Option {
	return func(ctl *Controller) { ctl.ack = fn }
}

// WithLanguage sets the initial recognition language. Default: "en".
func WithLanguage(lang string) Option {
	return func(ctl *Controller) {
		if lang != "" {
			ctl.language = lang
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

type requestKind int

const (
	reqEnable requestKind = iota
	reqWakeWord
	reqLanguage
)

type request struct {
	kind    requestKind
	enabled bool
	value   string
	reply   chan error
}

// Controller owns the recognition session. Create with [New], then call
// [Controller.Run].
type Controller struct {
	rec      recognizer.Recognizer
	settings *SettingsStore
	clock    Clock
	matcher  *WakeMatcher
	handler  Handler
	notify   Notifier
	ack      func(ctx context.Context)
	metrics  *observe.Metrics

	restartDelay time.Duration
	minSession   time.Duration

	requests chan request
	handlers sync.WaitGroup

	// Owned by the Run goroutine.
	transitioning bool
	pending       State // mode to start on the next end event, "" for none
	startedAt     time.Time
	restart       <-chan time.Time

	mu        sync.Mutex
	state     State
	hardError bool
	current   Settings
	language  string
	observers map[int]func(State)
	nextID    int
}

// New returns a controller driving rec with settings persisted in settings.
func New(rec recognizer.Recognizer, settings *SettingsStore, opts ...Option) *Controller {
	c := &Controller{
		rec:          rec,
		settings:     settings,
		clock:        realClock{},
		restartDelay: defaultRestartDelay,
		minSession:   defaultMinSession,
		requests:     make(chan request),
		state:        StateIdle,
		current:      settings.defaults,
		language:     "en",
		observers:    make(map[int]func(State)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.matcher == nil {
		c.matcher = NewWakeMatcher(false, 0)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current listening state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HardError reports whether auto-restart is suspended after rapid churn or a
// failed start. Re-enabling the feature clears it.
func (c *Controller) HardError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hardError
}

// Settings returns the active voice settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Language returns the recognition language.
func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Subscribe registers fn to be called on every state change. fn runs on the
// event loop and must not call back into the controller's request methods.
// The returned function removes the subscription.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// SetEnabled turns the feature on or off and persists the choice. Enabling
// clears a pending hard error and starts wake-word listening. The new state
// applies even when persisting fails; the error is returned.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	return c.send(ctx, request{kind: reqEnable, enabled: enabled})
}

// SetWakeWord changes and persists the wake phrase.
func (c *Controller) SetWakeWord(ctx context.Context, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return errors.New("voice: wake word must not be empty")
	}
	return c.send(ctx, request{kind: reqWakeWord, value: word})
}

// SetLanguage changes the recognition language. It applies to the next
// session.
func (c *Controller) SetLanguage(ctx context.Context, lang string) error {
	if lang == "" {
		return errors.New("voice: language must not be empty")
	}
	return c.send(ctx, request{kind: reqLanguage, value: lang})
}

func (c *Controller) send(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the stored settings, starts listening when enabled and processes
// events until ctx is cancelled. On return the recognizer is stopped and all
// handler goroutines have finished.
func (c *Controller) Run(ctx context.Context) error {
	st := c.settings.Load(ctx)
	c.mu.Lock()
	c.current = st
	c.mu.Unlock()

	slog.Info("voice: controller started", "enabled", st.IsEnabled, "wake_word", st.WakeWord, "language", c.Language())
	if st.IsEnabled {
		c.start(ctx, StateWakeWord)
	}

	events := c.rec.Events()
	for {
		select {
		case <-ctx.Done():
			_ = c.rec.Stop()
			c.setState(StateIdle)
			c.handlers.Wait()
			return nil
		case e := <-events:
			c.handleEvent(ctx, e)
		case <-c.restart:
			c.restart = nil
			c.onRestartTimer(ctx)
		case req := <-c.requests:
			req.reply <- c.handleRequest(ctx, req)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, e recognizer.Event) {
	switch e.Kind {
	case recognizer.EventStart:
		c.transitioning = false
	case recognizer.EventResult:
		c.onResult(ctx, e)
	case recognizer.EventError:
		c.onError(ctx, e)
	case recognizer.EventEnd:
		c.onEnd(ctx)
	}
}

func (c *Controller) onResult(ctx context.Context, e recognizer.Event) {
	text := strings.TrimSpace(e.FinalTranscript())
	if text == "" {
		return
	}

	switch c.State() {
	case StateWakeWord:
		if !c.matcher.Match(text, c.Settings().WakeWord) {
			return
		}
		slog.Info("voice: wake word detected", "transcript", text)
		c.transitioning = true
		if c.ack != nil {
			c.ack(ctx)
		}
		if err := c.rec.Stop(); err != nil {
			slog.Debug("voice: stop after wake word", "error", err)
		}
	case StateCommand:
		c.setState(StateIdle)
		c.dispatch(ctx, text)
	}
}

func (c *Controller) dispatch(ctx context.Context, text string) {
	if c.handler == nil {
		return
	}
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		c.handler(ctx, text)
	}()
}

func (c *Controller) onError(ctx context.Context, e recognizer.Event) {
	kind := e.Error
	if kind == "" {
		kind = recognizer.ErrUnknown
	}
	c.transitioning = false
	c.metrics.RecordVoiceError(ctx, string(kind))
	slog.Warn("voice: recognition error", "kind", kind, "error", e.Err)

	if kind.Terminal() {
		c.restart = nil
		c.pending = ""
		st := c.Settings()
		st.IsEnabled = false
		c.apply(ctx, st)
		c.emit(KeyErrorPermission)
	} else {
		c.emit(errorKey(kind))
	}
	c.setState(StateIdle)
}

func (c *Controller) onEnd(ctx context.Context) {
	if c.transitioning {
		// Consumed here: a command session that ends without a start event
		// must not be taken for another wake-word switch.
		c.transitioning = false
		c.start(ctx, StateCommand)
		return
	}
	if !c.Settings().IsEnabled {
		c.pending = ""
		c.setState(StateIdle)
		return
	}
	if mode := c.pending; mode != "" {
		c.pending = ""
		c.start(ctx, mode)
		return
	}

	if elapsed := c.clock.Now().Sub(c.startedAt); elapsed < c.minSession {
		slog.Warn("voice: session ended too quickly, suspending auto-restart", "elapsed", elapsed)
		c.setHardError(true)
	}
	c.setState(StateIdle)

	if !c.HardError() && c.restart == nil {
		c.restart = c.clock.After(c.restartDelay)
	}
}

func (c *Controller) onRestartTimer(ctx context.Context) {
	if !c.Settings().IsEnabled || c.HardError() || c.State() != StateIdle {
		return
	}
	c.start(ctx, StateWakeWord)
}

func (c *Controller) handleRequest(ctx context.Context, req request) error {
	switch req.kind {
	case reqEnable:
		st := c.Settings()
		st.IsEnabled = req.enabled
		err := c.apply(ctx, st)
		if req.enabled {
			c.setHardError(false)
			if c.State() == StateIdle && c.restart == nil {
				c.start(ctx, StateWakeWord)
			}
			return err
		}
		c.transitioning = false
		c.pending = ""
		c.restart = nil
		_ = c.rec.Stop()
		c.setState(StateIdle)
		return err
	case reqWakeWord:
		st := c.Settings()
		st.WakeWord = req.value
		return c.apply(ctx, st)
	case reqLanguage:
		c.mu.Lock()
		c.language = req.value
		c.mu.Unlock()
	}
	return nil
}

// start begins a session in mode, stopping any previous one first.
func (c *Controller) start(ctx context.Context, mode State) {
	_ = c.rec.Stop()

	opts := recognizer.StartOptions{
		Language:       c.Language(),
		Continuous:     mode == StateWakeWord,
		InterimResults: true,
	}
	if err := c.rec.Start(ctx, opts); err != nil {
		if errors.Is(err, recognizer.ErrAlreadyStarted) {
			// The previous session has not ended yet; its end event starts us.
			slog.Debug("voice: recognizer still busy, deferring start", "mode", mode)
			c.pending = mode
			return
		}
		slog.Error("voice: start recognition failed", "mode", mode, "error", err)
		c.setHardError(true)
		c.setState(StateIdle)
		return
	}
	c.startedAt = c.clock.Now()
	c.metrics.RecordVoiceStart(ctx, string(mode))
	c.setState(mode)
}

// apply publishes st and persists it. Persist failures are logged and
// returned.
func (c *Controller) apply(ctx context.Context, st Settings) error {
	c.mu.Lock()
	c.current = st
	c.mu.Unlock()
	if err := c.settings.Save(ctx, st); err != nil {
		slog.Warn("voice: persist settings failed", "error", err)
		return err
	}
	return nil
}

func (c *Controller) setHardError(v bool) {
	c.mu.Lock()
	c.hardError = v
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	slog.Debug("voice: state changed", "state", s)
	for _, fn := range observers {
		fn(s)
	}
}

func (c *Controller) emit(key string) {
	if c.notify != nil {
		c.notify(key)
	}
}

func errorKey(kind recognizer.ErrorKind) string {
	switch kind {
	case recognizer.ErrNetwork:
		return KeyErrorNetwork
	case recognizer.ErrAudioCapture:
		return KeyErrorAudio
	case recognizer.ErrNotAllowed, recognizer.ErrServiceNotAllowed:
		return KeyErrorPermission
	default:
		return KeyErrorGeneric
	}
}
