// Package assistant is the conversational co-driver behind the voice
// catch-all. Each question first gets a cheap sentiment probe; the result
// selects the tone of the system instruction, which also carries the current
// driving context (time, position, weather). Replies are streamed.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/pkg/provider/llm"
)

// ErrBusy is returned by [Assistant.Ask] while another question is being
// answered.
var ErrBusy = errors.New("assistant: a request is already in flight")

// KeyErrorResponse is the translation key shown when a question could not be
// answered.
const KeyErrorResponse = "error_ai_response"

const defaultMaxHistory = 20

// Translator looks up localized text. Missing keys come back unchanged.
type Translator interface {
	T(key string, params map[string]string) string
}

// Location is a WGS84 position.
type Location struct {
	Lat, Lon float64
}

// DriveContext is the situational context attached to the system instruction.
// Zero fields are left out.
type DriveContext struct {
	Location *Location

	// Weather is a short, already localized description ("light rain, 18°C").
	Weather string
}

// ContextFunc returns the current driving context.
type ContextFunc func(ctx context.Context) DriveContext

// Option is a functional option for configuring an [Assistant].
type Option func(*Assistant)

// WithContext sets the driving context source.
func WithContext(fn ContextFunc) Option {
	return func(a *Assistant) { a.context = fn }
}

// WithMaxHistory caps the number of remembered messages. Default: 20.
func WithMaxHistory(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxHistory = n
		}
	}
}

// WithNow replaces the wall clock. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// WithProviderName sets the provider label used in metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(a *Assistant) { a.name = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// Assistant answers free-form questions. It is safe for concurrent use but
// answers one question at a time.
type Assistant struct {
	provider   llm.Provider
	translate  func(lang string) Translator
	context    ContextFunc
	maxHistory int
	now        func() time.Time
	name       string
	metrics    *observe.Metrics

	busy atomic.Bool

	mu      sync.Mutex
	history []llm.Message
}

// New returns an assistant answering through provider.
func New(provider llm.Provider, translate func(lang string) Translator, opts ...Option) *Assistant {
	a := &Assistant{
		provider:   provider,
		translate:  translate,
		maxHistory: defaultMaxHistory,
		now:        time.Now,
		name:       "llm",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Ask answers query in lang. Every text fragment is passed to onChunk as it
// arrives (onChunk may be nil); the full reply is returned. A failed turn
// leaves the history untouched. Blank queries return "" and no error.
func (a *Assistant) Ask(ctx context.Context, query, lang string, onChunk func(string)) (reply string, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	if !a.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer a.busy.Store(false)

	ctx, span := observe.StartSpan(ctx, "assistant.ask")
	start := a.now()
	defer func() {
		a.metrics.AssistantDuration.Record(ctx, a.now().Sub(start).Seconds())
		observe.EndSpan(span, err)
	}()

	sentiment := a.Sentiment(ctx, query)
	req := llm.CompletionRequest{
		SystemPrompt: a.SystemInstruction(ctx, sentiment, lang),
		Messages:     append(a.History(), llm.Message{Role: llm.RoleUser, Content: query}),
	}

	reply, err = a.stream(ctx, req, onChunk)
	a.recordRequest(ctx, "chat", err)
	if err != nil {
		return "", fmt.Errorf("assistant: ask: %w", err)
	}

	a.remember(llm.Message{Role: llm.RoleUser, Content: query}, llm.Message{Role: llm.RoleAssistant, Content: reply})
	observe.Logger(ctx).Debug("assistant: answered", "sentiment", sentiment, "lang", lang, "chars", len(reply))
	return reply, nil
}

func (a *Assistant) stream(ctx context.Context, req llm.CompletionRequest, onChunk func(string)) (string, error) {
	ch, err := a.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			// Drain so the provider goroutine can exit.
			go func() {
				for range ch {
				}
			}()
			return "", ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if c.FinishReason == llm.FinishReasonError {
				return "", &llm.StreamError{Message: c.Text}
			}
			if c.Text == "" {
				continue
			}
			b.WriteString(c.Text)
			if onChunk != nil {
				onChunk(c.Text)
			}
		}
	}
}

// History returns a copy of the remembered conversation.
func (a *Assistant) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Reset forgets the conversation.
func (a *Assistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

func (a *Assistant) remember(msgs ...llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msgs...)
	if over := len(a.history) - a.maxHistory; over > 0 {
		a.history = append([]llm.Message(nil), a.history[over:]...)
	}
}

func (a *Assistant) recordRequest(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		slog.Warn("assistant: provider request failed", "kind", kind, "error", err)
	}
	a.metrics.RecordProviderRequest(ctx, a.name, kind, status)
}
