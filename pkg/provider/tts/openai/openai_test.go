package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", WithSpeed(9)); err == nil {
		t.Error("expected error for out-of-range speed")
	}
	p, err := New("sk-test", WithVoice("nova"), WithModel("tts-1"), WithSpeed(1.25))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.voice != "nova" || p.model != "tts-1" || p.speed != 1.25 {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	type speechBody struct {
		Input          string  `json:"input"`
		Model          string  `json:"model"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Instructions   string  `json:"instructions"`
		Speed          float64 `json:"speed"`
	}
	bodies := make(chan speechBody, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var b speechBody
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bodies <- b
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rc, err := p.Synthesize(context.Background(), "सडक स्थिति हेर्दै।", "ne")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer rc.Close()
	audio, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(audio) != "ID3fake" {
		t.Errorf("audio = %q", audio)
	}

	b := <-bodies
	if b.Input != "सडक स्थिति हेर्दै।" || b.Model != defaultModel || b.Voice != defaultVoice || b.ResponseFormat != "mp3" {
		t.Errorf("request body = %+v", b)
	}
	if b.Instructions == "" {
		t.Error("expected speaking instructions for a language hint")
	}
	if b.Speed != 0 {
		t.Errorf("speed should be omitted, got %v", b.Speed)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad voice","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hello", "en"); err == nil {
		t.Error("expected error for 400 response")
	}
	if _, err := p.Synthesize(context.Background(), "", "en"); err == nil {
		t.Error("expected error for empty text")
	}
}
