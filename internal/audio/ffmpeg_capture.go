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
	"strings"
	"sync"
	"time"

	"vcni/internal/ports"
)

// FFMPEGCapture streams microphone samples as f32le using ffmpeg.
type FFMPEGCapture struct {
	command          string
	echoCancelDevice string
}

// NewFFMPEGCapture returns a capture source. When echoCancelDevice is set it
// replaces the input device for sessions that request echo cancellation,
// typically a PulseAudio module-echo-cancel source.
func NewFFMPEGCapture(command string, echoCancelDevice string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, echoCancelDevice: strings.TrimSpace(echoCancelDevice)}
}

func (c *FFMPEGCapture) Open(ctx context.Context, cfg ports.AudioConfig) (ports.SampleStream, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func (c *FFMPEGCapture) args(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.EchoCancellation && c.echoCancelDevice != "" {
		cfg.InputDevice = c.echoCancelDevice
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}

	var filters []string
	if cfg.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if cfg.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	// The bridge frames mono audio; ffmpeg mixes down whatever the device
	// delivers, so cfg.Channels does not apply here.
	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	)
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	raw     []byte
	pending int

	stopOnce sync.Once
	stopErr  error
}

// Read decodes whole float32 samples; a partial sample stays buffered.
func (s *ffmpegStream) Read(buf []float32) (int, error) {
	want := len(buf) * 4
	if cap(s.raw) < want {
		grown := make([]byte, want)
		copy(grown, s.raw[:s.pending])
		s.raw = grown
	}
	s.raw = s.raw[:want]

	for {
		n, err := s.stdout.Read(s.raw[s.pending:])
		s.pending += n
		whole := s.pending / 4
		if whole > 0 {
			DecodeFloat32LE(buf, s.raw[:whole*4])
			rest := copy(s.raw, s.raw[whole*4:s.pending])
			s.pending = rest
			return whole, err
		}
		if err != nil {
			return 0, err
		}
	}
}

func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
