// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one short confirmation or assistant reply into encoded
// audio (MP3 unless the implementation says otherwise) that an
// [audio.Player] can play back.
//
// Implementations must be safe for concurrent use.
//
// [audio.Player]: github.com/MrWong99/sadaksathi/pkg/audio.Player
package tts

import (
	"context"
	"io"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text spoken in lang (a BCP 47 tag such as "ne" or
	// "en-US"; empty lets the backend decide). The caller must close the
	// returned reader.
	Synthesize(ctx context.Context, text, lang string) (io.ReadCloser, error)
}
