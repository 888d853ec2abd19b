package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// FFplayPlayer plays audio by piping it into ffplay.
type FFplayPlayer struct {
	command string
}

var _ Player = (*FFplayPlayer)(nil)

// NewFFplayPlayer returns a player. An empty command means "ffplay".
func NewFFplayPlayer(command string) *FFplayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFplayPlayer{command: command}
}

// Play blocks until ffplay has drained r and exited.
func (p *FFplayPlayer) Play(ctx context.Context, r io.Reader) error {
	cmd := exec.CommandContext(ctx, p.command, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "-")
	cmd.Stdin = r
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: ffplay: %w: %s", err, stderr.trimmed())
	}
	return nil
}
