//go:build !portaudio

package audio

import (
	"context"
	"errors"

	"vcni/internal/ports"
)

var errPortAudioUnavailable = errors.New("built without portaudio support (rebuild with -tags portaudio)")

// PortAudioCapture is unavailable in this build.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Open(context.Context, ports.AudioConfig) (ports.SampleStream, error) {
	return nil, errPortAudioUnavailable
}

// PortAudioPlayer is unavailable in this build.
type PortAudioPlayer struct{}

func NewPortAudioPlayer() *PortAudioPlayer {
	return &PortAudioPlayer{}
}

func (p *PortAudioPlayer) Play(context.Context, []float32, int) error {
	return errPortAudioUnavailable
}
