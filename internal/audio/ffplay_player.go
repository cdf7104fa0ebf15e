package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// FFPlayPlayer plays float32 samples by piping f32le into ffplay.
type FFPlayPlayer struct {
	command string
}

func NewFFPlayPlayer(command string) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayPlayer{command: command}
}

// Play blocks until ffplay has drained the samples or ctx is cancelled.
func (p *FFPlayPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-f", "f32le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
	cmd := exec.CommandContext(ctx, p.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	cmd.Stdin = bytes.NewReader(EncodeFloat32LE(samples))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("ffplay failed: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return fmt.Errorf("ffplay failed: %w", err)
	}
	return nil
}
