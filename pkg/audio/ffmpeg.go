package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	// startupGrace is how long Open waits for ffmpeg to fail fast (missing
	// device, bad input format) before handing out the stream.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Close waits after SIGINT before killing ffmpeg.
	stopGrace = 1200 * time.Millisecond
)

// FFmpegOption configures an [FFmpegSource].
type FFmpegOption func(*FFmpegSource)

// WithCommand overrides the ffmpeg binary path. Default: "ffmpeg".
func WithCommand(cmd string) FFmpegOption {
	return func(s *FFmpegSource) {
		if cmd != "" {
			s.command = cmd
		}
	}
}

// WithInput sets the ffmpeg input format and device, e.g. ("pulse", "default")
// on Linux or ("avfoundation", ":0") on macOS.
func WithInput(format, device string) FFmpegOption {
	return func(s *FFmpegSource) {
		if format != "" {
			s.inputFormat = format
		}
		if device != "" {
			s.inputDevice = device
		}
	}
}

// FFmpegSource captures microphone audio by running ffmpeg and reading s16le
// PCM from its stdout.
type FFmpegSource struct {
	command     string
	inputFormat string
	inputDevice string
}

var _ Source = (*FFmpegSource)(nil)

// NewFFmpegSource returns a capture source. Defaults to the PulseAudio
// "default" device.
func NewFFmpegSource(opts ...FFmpegOption) *FFmpegSource {
	s := &FFmpegSource{
		command:     "ffmpeg",
		inputFormat: "pulse",
		inputDevice: "default",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Args returns the ffmpeg argument list used for format f.
func (s *FFmpegSource) Args(f Format) []string {
	f = f.withDefaults()
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.inputFormat,
		"-i", s.inputDevice,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open starts ffmpeg. It returns an error if the process cannot be started or
// exits during the startup grace period. Cancelling ctx kills the process.
func (s *FFmpegSource) Open(ctx context.Context, f Format) (Stream, error) {
	cmd := exec.CommandContext(ctx, s.command, s.Args(f)...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("audio: ffmpeg exited during startup: %w: %s", err, stderr.trimmed())
		}
		return nil, errors.New("audio: ffmpeg exited during startup")
	case <-time.After(startupGrace):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegStream struct {
	stdout  io.ReadCloser
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close interrupts ffmpeg, escalating to kill after the stop grace period.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.closeErr = exitErr(err)
			}
		case <-time.After(stopGrace):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.closeErr = exitErr(err)
			}
		}

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.closeErr == nil {
			s.closeErr = err
		}
		if s.closeErr != nil {
			if msg := s.stderr.trimmed(); msg != "" {
				s.closeErr = fmt.Errorf("%w: %s", s.closeErr, msg)
			}
		}
	})
	return s.closeErr
}

// exitErr drops the non-zero exit status ffmpeg reports after SIGINT.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return nil
	}
	return err
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of exec's stderr
// copier and reads from Close.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
