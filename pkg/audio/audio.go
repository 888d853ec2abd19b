// Package audio provides microphone capture and speech playback for the voice
// assistant.
//
// A [Source] opens a raw PCM [Stream] from an input device. A [Player] plays
// back encoded audio (e.g. synthesized speech). The ffmpeg-backed
// implementations shell out to the ffmpeg/ffplay binaries so no cgo audio
// library is needed.
package audio

import (
	"context"
	"io"
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	// SampleRate in Hz. Zero means 16000.
	SampleRate int

	// Channels is the channel count. Zero means mono.
	Channels int
}

// withDefaults fills in zero fields.
func (f Format) withDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// Stream is an open capture stream. Read returns raw PCM in the requested
// [Format]; Close stops the capture and releases the device.
type Stream interface {
	io.ReadCloser
}

// Source opens capture streams. A Source may be opened repeatedly; each call
// returns an independent stream.
type Source interface {
	Open(ctx context.Context, f Format) (Stream, error)
}

// Player plays encoded audio (mp3, wav, ...) to the default output device.
// Play blocks until playback finished or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio io.Reader) error
}
