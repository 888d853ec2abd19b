// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Player] for unit tests.
//
// All mocks are safe for concurrent use and record their calls.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/sadaksathi/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source]. Each Open returns a [Stream] that yields
// Chunks in order and then blocks until closed.
type Source struct {
	mu sync.Mutex

	// Chunks are returned by successive Read calls on every opened stream.
	Chunks [][]byte

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format

	streams []*Stream
}

var _ audio.Source = (*Source)(nil)

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, f)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := &Stream{chunks: append([][]byte(nil), s.Chunks...), closed: make(chan struct{})}
	s.streams = append(s.streams, st)
	return st, nil
}

// Streams returns every stream opened so far.
func (s *Source) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// Stream is the [audio.Stream] handed out by [Source].
type Stream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed chan struct{}
	once   sync.Once
}

// Read returns the next chunk, or blocks until Close and then returns io.EOF.
func (st *Stream) Read(p []byte) (int, error) {
	st.mu.Lock()
	if len(st.chunks) > 0 {
		c := st.chunks[0]
		n := copy(p, c)
		if n < len(c) {
			st.chunks[0] = c[n:]
		} else {
			st.chunks = st.chunks[1:]
		}
		st.mu.Unlock()
		return n, nil
	}
	st.mu.Unlock()
	<-st.closed
	return 0, io.EOF
}

// Close implements io.Closer. It is idempotent.
func (st *Stream) Close() error {
	st.once.Do(func() { close(st.closed) })
	return nil
}

// Closed reports whether Close was called.
func (st *Stream) Closed() bool {
	select {
	case <-st.closed:
		return true
	default:
		return false
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player] that stores everything it is asked to play.
type Player struct {
	mu sync.Mutex

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	// Played holds the bytes of every Play call.
	Played [][]byte
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, buf.Bytes())
	return p.PlayErr
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
