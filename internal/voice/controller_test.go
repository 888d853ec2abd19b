package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sadaksathi/internal/prefs"
	"github.com/MrWong99/sadaksathi/pkg/recognizer"
	recmock "github.com/MrWong99/sadaksathi/pkg/recognizer/mock"
)

// fakeClock is a manually advanced [Clock]. Every After call shares one
// channel that the test fires explicitly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	afters []time.Duration
	fire   chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), fire: make(chan time.Time, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afters = append(c.afters, d)
	return c.fire
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Fire() { c.fire <- c.Now() }

func (c *fakeClock) Afters() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.afters...)
}

// harness bundles a running controller with its collaborators.
type harness struct {
	ctrl     *Controller
	rec      *recmock.Recognizer
	clock    *fakeClock
	prefs    *prefs.Memory
	states   chan State
	notified chan string
	commands chan string
	acks     chan struct{}
}

func newHarness(t *testing.T, initial map[string]string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		rec:      recmock.New(),
		clock:    newFakeClock(),
		prefs:    prefs.NewMemory(initial),
		states:   make(chan State, 32),
		notified: make(chan string, 8),
		commands: make(chan string, 8),
		acks:     make(chan struct{}, 8),
	}
	h.rec.AutoEndOnStop = true

	base := []Option{
		WithClock(h.clock),
		WithNotifier(func(key string) { h.notified <- key }),
		WithHandler(func(_ context.Context, text string) { h.commands <- text }),
		WithAcknowledge(func(context.Context) { h.acks <- struct{}{} }),
	}
	h.ctrl = New(h.rec, NewSettingsStore(h.prefs, DefaultSettings()), append(base, opts...)...)
	h.ctrl.Subscribe(func(s State) { h.states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	select {
	case got := <-h.states:
		if got != want {
			t.Fatalf("state = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %q (current %q)", want, h.ctrl.State())
	}
}

func (h *harness) expectNoState(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.states:
		t.Fatalf("unexpected state change to %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) expectNotified(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.notified:
		if got != want {
			t.Fatalf("notification = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification %q", want)
	}
}

// sync round-trips a request through the event loop so everything queued
// before it has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.ctrl.SetLanguage(context.Background(), h.ctrl.Language()); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestController_StartsInWakeWordMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	starts := h.rec.Starts()
	if len(starts) != 1 {
		t.Fatalf("Start calls = %d, want 1", len(starts))
	}
	if !starts[0].Continuous || !starts[0].InterimResults || starts[0].Language != "en" {
		t.Errorf("start options = %+v, want continuous interim en", starts[0])
	}
	if h.rec.Stops() < 1 {
		t.Error("expected a Stop before the first Start")
	}
}

func TestController_DisabledAtStartup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{SettingsKey: `{"wakeWord":"hey sathi","isEnabled":false}`})
	h.sync(t)

	if got := len(h.rec.Starts()); got != 0 {
		t.Errorf("Start calls = %d, want 0", got)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %q, want idle", h.ctrl.State())
	}
}

func TestController_WakePhraseSwitchesToCommandWithoutBackoff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	h.rec.EmitStart()
	h.rec.EmitInterim("hey sat")
	h.rec.EmitFinal("Okay, Hey Sathi")

	h.expectState(t, StateCommand)

	starts := h.rec.Starts()
	if len(starts) != 2 {
		t.Fatalf("Start calls = %d, want 2", len(starts))
	}
	if starts[1].Continuous {
		t.Error("command session must be single-utterance")
	}
	if got := h.clock.Afters(); len(got) != 0 {
		t.Errorf("restart timers = %v, want none", got)
	}
	if h.ctrl.HardError() {
		t.Error("hard error must not be set by an intentional transition")
	}
	select {
	case <-h.acks:
	default:
		t.Error("expected the wake word to be acknowledged")
	}
	select {
	case key := <-h.notified:
		t.Errorf("unexpected notification %q", key)
	default:
	}
}

func TestController_InterimWakePhraseIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	h.rec.EmitInterim("hey sathi")
	h.sync(t)

	if h.ctrl.State() != StateWakeWord {
		t.Errorf("state = %q, want wake-word", h.ctrl.State())
	}
	if got := len(h.rec.Starts()); got != 1 {
		t.Errorf("Start calls = %d, want 1", got)
	}
}

func TestController_UnexpectedEndSchedulesOneRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	h.clock.Advance(2 * time.Second)
	h.rec.EmitEnd()
	h.expectState(t, StateIdle)
	h.sync(t)

	afters := h.clock.Afters()
	if len(afters) != 1 || afters[0] != defaultRestartDelay {
		t.Fatalf("restart timers = %v, want exactly one of %v", afters, defaultRestartDelay)
	}
	if got := len(h.rec.Starts()); got != 1 {
		t.Fatalf("restart happened before the delay elapsed: %d starts", got)
	}

	h.clock.Fire()
	h.expectState(t, StateWakeWord)

	starts := h.rec.Starts()
	if len(starts) != 2 || !starts[1].Continuous {
		t.Fatalf("starts = %+v, want a second continuous start", starts)
	}
	if got := len(h.clock.Afters()); got != 1 {
		t.Errorf("restart timers = %d, want 1", got)
	}
}

func TestController_RapidChurnSetsHardError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	h.clock.Advance(120 * time.Millisecond)
	h.rec.EmitEnd()
	h.expectState(t, StateIdle)
	h.sync(t)

	if !h.ctrl.HardError() {
		t.Fatal("expected hard error after a sub-500ms session")
	}
	if got := h.clock.Afters(); len(got) != 0 {
		t.Fatalf("restart timers = %v, want none", got)
	}

	// Re-enabling clears the guard and listens again.
	if err := h.ctrl.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	h.expectState(t, StateWakeWord)
	if h.ctrl.HardError() {
		t.Error("hard error should be cleared by re-enabling")
	}
	if got := len(h.rec.Starts()); got != 2 {
		t.Errorf("Start calls = %d, want 2", got)
	}
}

func TestController_CommandDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)
	h.rec.EmitFinal("hey sathi")
	h.expectState(t, StateCommand)

	h.rec.EmitStart()
	h.rec.EmitFinal("  navigate to lumbini ")
	h.expectState(t, StateIdle)

	select {
	case got := <-h.commands:
		if got != "navigate to lumbini" {
			t.Errorf("command = %q, want %q", got, "navigate to lumbini")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command handler")
	}

	// The single-utterance session then ends; listening resumes after the delay.
	h.clock.Advance(time.Second)
	h.rec.EmitEnd()
	h.sync(t)
	if got := len(h.clock.Afters()); got != 1 {
		t.Fatalf("restart timers = %d, want 1", got)
	}
	h.clock.Fire()
	h.expectState(t, StateWakeWord)
}

func TestController_CommandTimeoutReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)
	h.rec.EmitFinal("hey sathi")
	h.expectState(t, StateCommand)

	h.clock.Advance(8 * time.Second)
	h.rec.EmitEnd()
	h.expectState(t, StateIdle)
	h.sync(t)

	select {
	case got := <-h.commands:
		t.Fatalf("unexpected command %q", got)
	default:
	}
	if got := len(h.clock.Afters()); got != 1 {
		t.Errorf("restart timers = %d, want 1", got)
	}
}

func TestController_CommandEndWithoutStartEventReturnsToIdle(t *testing.T) {
	t.Parallel()

	// The recognizer never reports a start, so only the end event tells the
	// controller that the command session is over.
	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)
	h.rec.EmitFinal("hey sathi")
	h.expectState(t, StateCommand)

	h.clock.Advance(8 * time.Second)
	h.rec.EmitEnd()
	h.expectState(t, StateIdle)
	h.sync(t)

	starts := h.rec.Starts()
	if len(starts) != 2 || !starts[0].Continuous || starts[1].Continuous {
		t.Fatalf("starts = %+v, want one wake-word and one command session", starts)
	}
	if got := len(h.clock.Afters()); got != 1 {
		t.Fatalf("restart timers = %d, want 1", got)
	}

	h.clock.Fire()
	h.expectState(t, StateWakeWord)
	if starts := h.rec.Starts(); len(starts) != 3 || !starts[2].Continuous {
		t.Errorf("starts = %+v, want a continuous restart after the delay", starts)
	}
}

func TestController_PermissionDeniedDisablesFeature(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	h.clock.Advance(time.Second)
	h.rec.EmitError(recognizer.ErrNotAllowed)
	h.expectNotified(t, KeyErrorPermission)
	h.expectState(t, StateIdle)
	h.rec.EmitEnd()
	h.sync(t)

	if h.ctrl.Settings().IsEnabled {
		t.Error("feature should be disabled")
	}
	raw, ok := h.prefs.Raw(SettingsKey)
	if !ok || raw != `{"wakeWord":"hey sathi","isEnabled":false}` {
		t.Errorf("persisted settings = %q, want disabled record", raw)
	}
	if got := h.clock.Afters(); len(got) != 0 {
		t.Errorf("restart timers = %v, want none", got)
	}
	if got := len(h.rec.Starts()); got != 1 {
		t.Errorf("Start calls = %d, want 1", got)
	}
}

func TestController_TransientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind recognizer.ErrorKind
		key  string
	}{
		{recognizer.ErrNetwork, KeyErrorNetwork},
		{recognizer.ErrAudioCapture, KeyErrorAudio},
		{recognizer.ErrNoSpeech, KeyErrorGeneric},
		{"", KeyErrorGeneric},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			h.expectState(t, StateWakeWord)

			h.clock.Advance(time.Second)
			h.rec.EmitError(tc.kind)
			h.expectNotified(t, tc.key)
			h.expectState(t, StateIdle)
			h.rec.EmitEnd()
			h.sync(t)

			if !h.ctrl.Settings().IsEnabled {
				t.Error("transient errors must not disable the feature")
			}
			if got := len(h.clock.Afters()); got != 1 {
				t.Fatalf("restart timers = %d, want 1", got)
			}
			h.clock.Fire()
			h.expectState(t, StateWakeWord)
		})
	}
}

func TestController_ErrorDuringTransitionClearsFlag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.rec.SetAutoEndOnStop(false)
	h.expectState(t, StateWakeWord)

	h.rec.EmitFinal("hey sathi")
	h.clock.Advance(time.Second)
	h.rec.EmitError(recognizer.ErrNetwork)
	h.expectNotified(t, KeyErrorNetwork)
	h.expectState(t, StateIdle)
	h.rec.EmitEnd()
	h.sync(t)

	starts := h.rec.Starts()
	if len(starts) != 1 {
		t.Fatalf("Start calls = %d, want 1 (no command session after error)", len(starts))
	}
	if got := len(h.clock.Afters()); got != 1 {
		t.Errorf("restart timers = %d, want 1", got)
	}
}

func TestController_DisableStopsListening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	if err := h.ctrl.SetEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	h.expectState(t, StateIdle)
	h.sync(t)

	if h.rec.Running() {
		t.Error("recognizer should be stopped")
	}
	if got := len(h.clock.Afters()); got != 0 {
		t.Errorf("restart timers = %d, want 0", got)
	}
	raw, _ := h.prefs.Raw(SettingsKey)
	if raw != `{"wakeWord":"hey sathi","isEnabled":false}` {
		t.Errorf("persisted settings = %q", raw)
	}
}

func TestController_StartFailureSetsHardError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{SettingsKey: `{"wakeWord":"hey sathi","isEnabled":false}`})
	h.sync(t)
	h.rec.SetStartErr(errors.New("device busy"))

	if err := h.ctrl.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	h.sync(t)

	if !h.ctrl.HardError() {
		t.Error("expected hard error after a failed start")
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %q, want idle", h.ctrl.State())
	}
}

func TestController_AlreadyStartedDefersStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.rec.SetAutoEndOnStop(false)
	h.expectState(t, StateWakeWord)

	// Disable, but the platform has not delivered the end event yet.
	if err := h.ctrl.SetEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	h.expectState(t, StateIdle)
	if err := h.ctrl.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled(true): %v", err)
	}
	h.expectNoState(t)

	// The end of the old session starts the new one immediately, without the
	// churn guard or a restart delay.
	h.rec.EmitEnd()
	h.expectState(t, StateWakeWord)
	if h.ctrl.HardError() {
		t.Error("deferred start must not trip the churn guard")
	}
	if got := len(h.clock.Afters()); got != 0 {
		t.Errorf("restart timers = %d, want 0", got)
	}
}

func TestController_SetWakeWordAndLanguage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectState(t, StateWakeWord)

	if err := h.ctrl.SetWakeWord(context.Background(), "  namaste sathi "); err != nil {
		t.Fatalf("SetWakeWord: %v", err)
	}
	if err := h.ctrl.SetWakeWord(context.Background(), " "); err == nil {
		t.Error("expected error for empty wake word")
	}
	if err := h.ctrl.SetLanguage(context.Background(), "ne"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}

	h.rec.EmitFinal("hey sathi")
	h.sync(t)
	if h.ctrl.State() != StateWakeWord {
		t.Fatalf("old wake word should no longer match, state = %q", h.ctrl.State())
	}

	h.rec.EmitFinal("namaste sathi")
	h.expectState(t, StateCommand)

	starts := h.rec.Starts()
	if got := starts[len(starts)-1].Language; got != "ne" {
		t.Errorf("command session language = %q, want ne", got)
	}
	raw, _ := h.prefs.Raw(SettingsKey)
	if raw != `{"wakeWord":"namaste sathi","isEnabled":true}` {
		t.Errorf("persisted settings = %q", raw)
	}
}

func TestController_PhoneticWakeWord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, WithWakeMatcher(NewWakeMatcher(true, 0)))
	h.expectState(t, StateWakeWord)

	h.rec.EmitFinal("hey saathi")
	h.expectState(t, StateCommand)
}
