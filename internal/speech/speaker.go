// Package speech reads short texts aloud by chaining a TTS provider into an
// audio player.
package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/resilience"
	"github.com/MrWong99/sadaksathi/internal/voicecmd"
	"github.com/MrWong99/sadaksathi/pkg/audio"
	"github.com/MrWong99/sadaksathi/pkg/provider/tts"
)

// Option is a functional option for configuring a [Speaker].
type Option func(*Speaker)

// WithProviderName sets the provider label used in metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(s *Speaker) { s.name = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// WithBreaker guards synthesis calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Speaker) { s.breaker = cb }
}

// Speaker implements [voicecmd.Speaker]. Utterances never overlap: a call
// waits until the previous one finished playing.
type Speaker struct {
	provider tts.Provider
	player   audio.Player
	name     string
	metrics  *observe.Metrics
	breaker  *resilience.CircuitBreaker

	mu sync.Mutex
}

var _ voicecmd.Speaker = (*Speaker)(nil)

// New returns a speaker synthesizing with provider and playing through player.
func New(provider tts.Provider, player audio.Player, opts ...Option) *Speaker {
	s := &Speaker{provider: provider, player: player, name: "tts"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts:" + s.name})
	}
	return s
}

// Speak synthesizes text in lang and blocks until playback ends.
func (s *Speaker) Speak(ctx context.Context, text, lang string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rc, err := resilience.Call(s.breaker, func() (io.ReadCloser, error) {
		return s.provider.Synthesize(ctx, text, lang)
	})
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "tts", status)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	defer rc.Close()

	if err := s.player.Play(ctx, rc); err != nil {
		return fmt.Errorf("speech: play: %w", err)
	}
	return nil
}
