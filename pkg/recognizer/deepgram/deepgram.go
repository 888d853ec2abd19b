// Package deepgram provides a [recognizer.Recognizer] backed by the Deepgram
// streaming WebSocket API. Microphone audio is read from an [audio.Source]
// and streamed as 16-bit mono PCM.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sadaksathi/pkg/audio"
	"github.com/MrWong99/sadaksathi/pkg/recognizer"
)

const (
	deepgramEndpoint        = "wss://api.deepgram.com/v1/listen"
	defaultModel            = "nova-3"
	defaultSampleRate       = 16000
	defaultUtteranceTimeout = 8 * time.Second

	// chunkDuration of audio is sent per WebSocket message.
	chunkDuration = 100 * time.Millisecond
)

// errUtteranceDone ends a single-utterance session after its final result.
var errUtteranceDone = errors.New("utterance complete")

// Option is a functional option for configuring the Deepgram Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		if model != "" {
			r.model = model
		}
	}
}

// WithSampleRate sets the capture and streaming sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) {
		if rate > 0 {
			r.sampleRate = rate
		}
	}
}

// WithUtteranceTimeout bounds single-utterance (non-continuous) sessions.
// A session that produced no final result within d ends without error.
// Default: 8s.
func WithUtteranceTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.utteranceTimeout = d
		}
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		if endpoint != "" {
			r.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		r.httpClient = c
	}
}

// Recognizer implements recognizer.Recognizer on top of Deepgram.
type Recognizer struct {
	apiKey           string
	model            string
	endpoint         string
	sampleRate       int
	utteranceTimeout time.Duration
	httpClient       *http.Client
	source           audio.Source

	events chan recognizer.Event

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while a session is live
}

var _ recognizer.Recognizer = (*Recognizer)(nil)

// New creates a Deepgram Recognizer. apiKey must be non-empty and source must
// not be nil.
func New(apiKey string, source audio.Source, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	if source == nil {
		return nil, errors.New("deepgram: audio source must not be nil")
	}
	r := &Recognizer{
		apiKey:           apiKey,
		model:            defaultModel,
		endpoint:         deepgramEndpoint,
		sampleRate:       defaultSampleRate,
		utteranceTimeout: defaultUtteranceTimeout,
		source:           source,
		events:           make(chan recognizer.Event, 64),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Events implements [recognizer.Recognizer]. Sessions block on a full
// channel, so the owner must keep draining it.
func (r *Recognizer) Events() <-chan recognizer.Event { return r.events }

// Start implements [recognizer.Recognizer]. The WebSocket dial happens in the
// background; failures surface as an EventError followed by EventEnd.
func (r *Recognizer) Start(ctx context.Context, opts recognizer.StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return recognizer.ErrAlreadyStarted
	}

	wsURL, err := r.buildURL(opts)
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	var (
		sctx   context.Context
		cancel context.CancelFunc
	)
	if opts.Continuous {
		sctx, cancel = context.WithCancel(ctx)
	} else {
		sctx, cancel = context.WithTimeout(ctx, r.utteranceTimeout)
	}
	r.cancel = cancel

	go r.run(sctx, cancel, wsURL, opts)
	return nil
}

// Stop implements [recognizer.Recognizer].
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return recognizer.ErrNotStarted
	}
	r.cancel()
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL for opts.
func (r *Recognizer) buildURL(opts recognizer.StartOptions) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	q.Set("channels", "1")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run drives one session and always finishes with EventEnd.
func (r *Recognizer) run(ctx context.Context, cancel context.CancelFunc, wsURL string, opts recognizer.StartOptions) {
	err := r.session(ctx, wsURL, opts)
	stopped := ctx.Err() != nil
	cancel()

	if err != nil && !stopped {
		kind := kindOf(err)
		slog.Warn("deepgram: session failed", "kind", kind, "error", err)
		r.events <- recognizer.Event{Kind: recognizer.EventError, Error: kind, Err: err}
	}

	r.mu.Lock()
	r.cancel = nil
	r.mu.Unlock()
	r.events <- recognizer.Event{Kind: recognizer.EventEnd}
}

func (r *Recognizer) session(ctx context.Context, wsURL string, opts recognizer.StartOptions) error {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: r.httpClient,
	})
	if err != nil {
		return &sessionError{kind: dialKind(resp), err: fmt.Errorf("deepgram: dial: %w", err)}
	}
	defer conn.CloseNow()

	r.events <- recognizer.Event{Kind: recognizer.EventStart}

	stream, err := r.source.Open(ctx, audio.Format{SampleRate: r.sampleRate, Channels: 1})
	if err != nil {
		return &sessionError{kind: recognizer.ErrAudioCapture, err: fmt.Errorf("deepgram: open audio: %w", err)}
	}
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	stopClose := context.AfterFunc(gctx, func() { _ = stream.Close() })
	defer stopClose()

	g.Go(func() error { return r.pump(gctx, conn, stream) })
	g.Go(func() error { return r.readLoop(gctx, conn, opts) })

	err = g.Wait()
	if errors.Is(err, errUtteranceDone) {
		_ = conn.Close(websocket.StatusNormalClosure, "utterance complete")
		return nil
	}
	return err
}

// pump copies microphone PCM into binary WebSocket messages.
func (r *Recognizer) pump(ctx context.Context, conn *websocket.Conn, stream audio.Stream) error {
	buf := make([]byte, r.sampleRate*2*int(chunkDuration/time.Millisecond)/1000)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &sessionError{kind: recognizer.ErrNetwork, err: fmt.Errorf("deepgram: send audio: %w", werr)}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				closeStream(conn)
				return ctx.Err()
			}
			return &sessionError{kind: recognizer.ErrAudioCapture, err: fmt.Errorf("deepgram: read audio: %w", err)}
		}
	}
}

// closeStream asks Deepgram to flush and close.
func closeStream(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// readLoop receives JSON messages from Deepgram and emits result events.
func (r *Recognizer) readLoop(ctx context.Context, conn *websocket.Conn, opts recognizer.StartOptions) error {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errUtteranceDone
			}
			return &sessionError{kind: closeKind(err), err: fmt.Errorf("deepgram: read: %w", err)}
		}
		if typ != websocket.MessageText {
			continue
		}

		res, ok := parseResponse(msg)
		if !ok {
			continue
		}
		if !res.IsFinal && !opts.InterimResults {
			continue
		}

		select {
		case r.events <- recognizer.Event{Kind: recognizer.EventResult, Results: []recognizer.Result{res}}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if !opts.Continuous && res.IsFinal {
			return errUtteranceDone
		}
	}
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse converts a raw Deepgram message into a Result. Metadata
// messages and empty transcripts are ignored.
func parseResponse(data []byte) (recognizer.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return recognizer.Result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return recognizer.Result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return recognizer.Result{}, false
	}
	return recognizer.Result{
		Transcript: alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

// sessionError tags a failure with the error kind reported to the owner.
type sessionError struct {
	kind recognizer.ErrorKind
	err  error
}

func (e *sessionError) Error() string { return e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

func kindOf(err error) recognizer.ErrorKind {
	var se *sessionError
	if errors.As(err, &se) {
		return se.kind
	}
	return recognizer.ErrUnknown
}

// dialKind maps a failed handshake to an error kind. Authentication and
// billing rejections are terminal; everything else is treated as a network
// problem.
func dialKind(resp *http.Response) recognizer.ErrorKind {
	if resp == nil {
		return recognizer.ErrNetwork
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return recognizer.ErrNotAllowed
	case http.StatusPaymentRequired:
		return recognizer.ErrServiceNotAllowed
	default:
		return recognizer.ErrNetwork
	}
}

// closeKind maps an abnormal close to an error kind.
func closeKind(err error) recognizer.ErrorKind {
	if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
		return recognizer.ErrServiceNotAllowed
	}
	return recognizer.ErrNetwork
}
