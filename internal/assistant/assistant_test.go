package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/sadaksathi/internal/i18n"
	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/pkg/provider/llm"
	"github.com/MrWong99/sadaksathi/pkg/provider/llm/mock"
)

var fixedNow = time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)

func newTestAssistant(t *testing.T, p *mock.Provider, opts ...Option) *Assistant {
	t.Helper()
	cat, err := i18n.New()
	if err != nil {
		t.Fatalf("i18n.New: %v", err)
	}
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []Option{
		WithNow(func() time.Time { return fixedNow }),
		WithMetrics(m),
	}
	return New(p, func(lang string) Translator { return cat.For(lang) }, append(base, opts...)...)
}

func TestAsk_StreamsReply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "```json\n{\"sentiment\": \"Angry\"}\n```"},
		StreamChunks: []llm.Chunk{
			{Text: "Take the "},
			{Text: ""},
			{Text: "Bypass road.", FinishReason: "stop"},
		},
	}
	a := newTestAssistant(t, p, WithContext(func(context.Context) DriveContext {
		return DriveContext{Location: &Location{Lat: 27.7172, Lon: 85.324}, Weather: "light rain, 18°C"}
	}))

	var chunks []string
	reply, err := a.Ask(context.Background(), "  why is this road always jammed  ", "en", func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "Take the Bypass road." {
		t.Errorf("reply = %q", reply)
	}
	if len(chunks) != 2 || chunks[0] != "Take the " {
		t.Errorf("chunks = %q", chunks)
	}

	streams := p.Streams()
	if len(streams) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(streams))
	}
	req := streams[0].Req
	for _, want := range []string{
		"calm travel companion",
		"Current driving context:",
		"Current time is 08:30.",
		"latitude 27.7172, longitude 85.3240",
		"The weather is light rain, 18°C.",
	} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt %q missing %q", req.SystemPrompt, want)
		}
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "why is this road always jammed" {
		t.Errorf("messages = %+v", req.Messages)
	}

	hist := a.History()
	if len(hist) != 2 || hist[0].Role != llm.RoleUser || hist[1].Role != llm.RoleAssistant || hist[1].Content != reply {
		t.Errorf("history = %+v", hist)
	}
}

func TestAsk_HistoryCarriesOverAndIsCapped(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	a := newTestAssistant(t, p, WithMaxHistory(3))

	for _, q := range []string{"first", "second"} {
		if _, err := a.Ask(context.Background(), q, "en", nil); err != nil {
			t.Fatalf("Ask(%q): %v", q, err)
		}
	}
	streams := p.Streams()
	if got := len(streams[1].Req.Messages); got != 3 {
		t.Errorf("second request messages = %d, want 3 (previous turn + question)", got)
	}
	hist := a.History()
	if len(hist) != 3 || hist[0].Content != "ok" || hist[1].Content != "second" {
		t.Errorf("history = %+v, want the 3 most recent messages", hist)
	}

	a.Reset()
	if len(a.History()) != 0 {
		t.Error("Reset should clear history")
	}
}

func TestAsk_SentimentFailureFallsBackToNeutral(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteErr:  errors.New("rate limited"),
		StreamChunks: []llm.Chunk{{Text: "Namaste"}},
	}
	a := newTestAssistant(t, p)

	if _, err := a.Ask(context.Background(), "hello", "en", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	prompt := p.Streams()[0].Req.SystemPrompt
	if !strings.HasPrefix(prompt, "You are Sathi, a friendly and concise") {
		t.Errorf("prompt = %q, want the neutral instruction", prompt)
	}
	if strings.Contains(prompt, "latitude") || strings.Contains(prompt, "weather") {
		t.Errorf("prompt %q has context that was never provided", prompt)
	}
}

func TestAsk_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *mock.Provider
	}{
		{"stream cannot start", &mock.Provider{StreamErr: errors.New("unauthorized")}},
		{"mid-stream error", &mock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Partial"},
			{Text: "connection reset", FinishReason: llm.FinishReasonError},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAssistant(t, tc.provider)
			reply, err := a.Ask(context.Background(), "route to pokhara?", "en", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if reply != "" {
				t.Errorf("reply = %q, want empty", reply)
			}
			if len(a.History()) != 0 {
				t.Errorf("failed turn must not be remembered: %+v", a.History())
			}
		})
	}
}

func TestAsk_SingleInFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	p := &mock.Provider{StreamGate: gate, StreamChunks: []llm.Chunk{{Text: "done"}}}
	a := newTestAssistant(t, p)

	type result struct {
		reply string
		err   error
	}
	first := make(chan result, 1)
	go func() {
		r, err := a.Ask(context.Background(), "first", "en", nil)
		first <- result{r, err}
	}()

	deadline := time.After(2 * time.Second)
	for len(p.Streams()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first request never reached the provider")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := a.Ask(context.Background(), "second", "en", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Ask err = %v, want ErrBusy", err)
	}

	close(gate)
	if r := <-first; r.err != nil || r.reply != "done" {
		t.Errorf("first Ask = %q, %v", r.reply, r.err)
	}
	if _, err := a.Ask(context.Background(), "third", "en", nil); err != nil {
		t.Errorf("Ask after completion: %v", err)
	}
}

func TestAsk_BlankQuery(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	a := newTestAssistant(t, p)
	reply, err := a.Ask(context.Background(), "   ", "en", nil)
	if err != nil || reply != "" {
		t.Errorf("Ask() = %q, %v", reply, err)
	}
	if len(p.Completes()) != 0 || len(p.Streams()) != 0 {
		t.Error("blank query must not reach the provider")
	}
}

func TestParseSentiment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Sentiment
	}{
		{`{"sentiment":"happy"}`, SentimentHappy},
		{`{"sentiment": " ANGRY "}`, SentimentAngry},
		{"Sure! {\"sentiment\": \"neutral\"}", SentimentNeutral},
		{`{"sentiment":"sad"}`, SentimentNeutral},
		{`{"mood":"happy"}`, SentimentNeutral},
		{`happy`, SentimentNeutral},
		{`{"sentiment":`, SentimentNeutral},
		{``, SentimentNeutral},
	}
	for _, tc := range tests {
		if got := parseSentiment(tc.in); got != tc.want {
			t.Errorf("parseSentiment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSystemInstruction_Localized(t *testing.T) {
	t.Parallel()

	a := newTestAssistant(t, &mock.Provider{})
	happy := a.SystemInstruction(context.Background(), SentimentHappy, "ne")
	// No Nepali instruction is shipped; the English one is used.
	if !strings.HasPrefix(happy, "You are Sathi, a cheerful") {
		t.Errorf("instruction = %q", happy)
	}
}
