package backend

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"vcni/internal/domain"
	"vcni/internal/ports"
)

type ttsRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// Synthesize starts a speech stream. The caller owns the returned body.
func (c *Client) Synthesize(ctx context.Context, text string) (ports.SynthesizedAudio, error) {
	resp, err := c.postJSON(ctx, c.cfg.TTSPath, ttsRequest{Text: text, Speaker: c.cfg.Speaker}, "audio/pcm")
	if err != nil {
		return ports.SynthesizedAudio{}, &domain.SynthesisError{Err: fmt.Errorf("tts request failed: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		detail := errorDetail(resp)
		resp.Body.Close()
		return ports.SynthesizedAudio{}, &domain.SynthesisError{Err: fmt.Errorf("tts returned %d: %s", resp.StatusCode, detail)}
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	sampleRate := 16000
	if raw := strings.TrimSpace(resp.Header.Get("X-Sample-Rate")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			sampleRate = parsed
		}
	}

	return ports.SynthesizedAudio{
		Body:        resp.Body,
		ContentType: strings.ToLower(contentType),
		SampleRate:  sampleRate,
	}, nil
}
