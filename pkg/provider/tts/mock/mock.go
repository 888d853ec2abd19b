// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/sadaksathi/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text string
	Lang string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned as the synthesized stream.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio.
func (p *Provider) Synthesize(_ context.Context, text, lang string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Lang: lang})
	if p.Err != nil {
		return nil, p.Err
	}
	return io.NopCloser(bytes.NewReader(p.Audio)), nil
}

// Synthesized returns a copy of the recorded calls.
func (p *Provider) Synthesized() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.Calls...)
}

var _ tts.Provider = (*Provider)(nil)
