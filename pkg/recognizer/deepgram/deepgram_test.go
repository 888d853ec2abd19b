package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	audiomock "github.com/MrWong99/sadaksathi/pkg/audio/mock"
	"github.com/MrWong99/sadaksathi/pkg/recognizer"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	r, err := New("test-key", &audiomock.Source{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(recognizer.StartOptions{Language: "ne", InterimResults: true})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "ne", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Options(t *testing.T) {
	t.Parallel()

	r, err := New("key", &audiomock.Source{}, WithModel("base"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := r.buildURL(recognizer.StartOptions{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	if q.Has("language") {
		t.Errorf("language should be omitted when empty, got %q", q.Get("language"))
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", &audiomock.Source{}); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", nil); err == nil {
		t.Error("expected error for nil source")
	}
}

// ---- parseResponse ----

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		msg    string
		want   recognizer.Result
		wantOK bool
	}{
		{
			name:   "final",
			msg:    `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"navigate to lumbini","confidence":0.93}]}}`,
			want:   recognizer.Result{Transcript: "navigate to lumbini", IsFinal: true, Confidence: 0.93},
			wantOK: true,
		},
		{
			name:   "interim",
			msg:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"navi","confidence":0.4}]}}`,
			want:   recognizer.Result{Transcript: "navi", Confidence: 0.4},
			wantOK: true,
		},
		{name: "metadata", msg: `{"type":"Metadata","request_id":"abc"}`},
		{name: "empty transcript", msg: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`},
		{name: "no alternatives", msg: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid json", msg: `{not json`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseResponse([]byte(tc.msg))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("parseResponse() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDialKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   recognizer.ErrorKind
	}{
		{http.StatusUnauthorized, recognizer.ErrNotAllowed},
		{http.StatusForbidden, recognizer.ErrNotAllowed},
		{http.StatusPaymentRequired, recognizer.ErrServiceNotAllowed},
		{http.StatusBadGateway, recognizer.ErrNetwork},
	}
	for _, tc := range tests {
		if got := dialKind(&http.Response{StatusCode: tc.status}); got != tc.want {
			t.Errorf("dialKind(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
	if got := dialKind(nil); got != recognizer.ErrNetwork {
		t.Errorf("dialKind(nil) = %q, want network", got)
	}
}

// ---- session tests against a local WebSocket server ----

const finalResult = `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"navigate to lumbini","confidence":0.9}]}}`

// newServer starts a WebSocket server. After the first audio frame it writes
// each of replies, then keeps reading until the client goes away.
func newServer(t *testing.T, replies ...string) (*httptest.Server, <-chan *http.Request) {
	t.Helper()
	reqs := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		for _, msg := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// collect reads events until EventEnd.
func collect(t *testing.T, r *Recognizer) []recognizer.Event {
	t.Helper()
	var got []recognizer.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-r.Events():
			got = append(got, e)
			if e.Kind == recognizer.EventEnd {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for end event; got %v", kinds(got))
		}
	}
}

func kinds(events []recognizer.Event) []recognizer.EventKind {
	out := make([]recognizer.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestSession_SingleUtterance(t *testing.T) {
	t.Parallel()

	srv, reqs := newServer(t, finalResult)
	src := &audiomock.Source{Chunks: [][]byte{make([]byte, 3200)}}
	r, err := New("secret", src, WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.Start(context.Background(), recognizer.StartOptions{Language: "en"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, r)

	want := []recognizer.EventKind{recognizer.EventStart, recognizer.EventResult, recognizer.EventEnd}
	if got := kinds(events); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := events[1].FinalTranscript(); got != "navigate to lumbini" {
		t.Errorf("transcript = %q, want %q", got, "navigate to lumbini")
	}

	req := <-reqs
	assertEqual(t, "authorization", "Token secret", req.Header.Get("Authorization"))
	assertEqual(t, "language", "en", req.URL.Query().Get("language"))

	if len(src.Streams()) != 1 || !src.Streams()[0].Closed() {
		t.Error("expected the audio stream to be opened once and closed")
	}

	// The session is over; a new one may start.
	if err := r.Stop(); !errors.Is(err, recognizer.ErrNotStarted) {
		t.Errorf("Stop after end = %v, want ErrNotStarted", err)
	}
}

func TestSession_StopContinuous(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	src := &audiomock.Source{Chunks: [][]byte{make([]byte, 3200)}}
	r, err := New("secret", src, WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.Start(context.Background(), recognizer.StartOptions{Continuous: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case e := <-r.Events():
		if e.Kind != recognizer.EventStart {
			t.Fatalf("first event = %v, want start", e.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for start event")
	}

	if err := r.Start(context.Background(), recognizer.StartOptions{}); !errors.Is(err, recognizer.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	events := collect(t, r)
	for _, e := range events {
		if e.Kind == recognizer.EventError {
			t.Errorf("unexpected error event after Stop: %v", e.Err)
		}
	}
}

func TestSession_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	src := &audiomock.Source{}
	r, err := New("wrong", src, WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background(), recognizer.StartOptions{Continuous: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, r)
	if len(events) != 2 || events[0].Kind != recognizer.EventError {
		t.Fatalf("events = %v, want [error end]", kinds(events))
	}
	if events[0].Error != recognizer.ErrNotAllowed {
		t.Errorf("error kind = %q, want %q", events[0].Error, recognizer.ErrNotAllowed)
	}
	if len(src.OpenCalls) != 0 {
		t.Error("audio should not be opened when the handshake fails")
	}
}

func TestSession_AudioCaptureFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	src := &audiomock.Source{OpenErr: errors.New("no such device")}
	r, err := New("secret", src, WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background(), recognizer.StartOptions{Continuous: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, r)
	want := []recognizer.EventKind{recognizer.EventStart, recognizer.EventError, recognizer.EventEnd}
	if got := kinds(events); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[1].Error != recognizer.ErrAudioCapture {
		t.Errorf("error kind = %q, want %q", events[1].Error, recognizer.ErrAudioCapture)
	}
}

func TestSession_UtteranceTimeout(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	src := &audiomock.Source{Chunks: [][]byte{make([]byte, 3200)}}
	r, err := New("secret", src, WithEndpoint(wsURL(srv)), WithUtteranceTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background(), recognizer.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collect(t, r)
	for _, e := range events {
		if e.Kind == recognizer.EventError || e.Kind == recognizer.EventResult {
			t.Errorf("unexpected %v event on silent timeout", e.Kind)
		}
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
