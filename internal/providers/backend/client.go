// Package backend talks to the assistant's HTTP API: transcription
// credentials, command interpretation and streamed speech synthesis.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls backend endpoints.
type Config struct {
	BaseURL   string
	TokenPath string
	NLUPath   string
	TTSPath   string
	Speaker   string
	UserID    string
	// Timeout bounds token and NLU requests. Speech streams are bounded only
	// by the caller's context.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.TokenFetcher, ports.CommandDispatcher and
// ports.SpeechSynthesizer.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.TokenPath == "" {
		cfg.TokenPath = "/api/assemblyai/token"
	}
	if cfg.NLUPath == "" {
		cfg.NLUPath = "/api/nlu/process"
	}
	if cfg.TTSPath == "" {
		cfg.TTSPath = "/api/tts/stream"
	}
	if cfg.Speaker == "" {
		cfg.Speaker = "moon"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, log: logger}
}

func (c *Client) endpoint(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) postJSON(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.http.Do(req)
}

// errorDetail reads a short error body, preferring FastAPI's {"detail": ...}.
func errorDetail(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var parsed struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Detail != nil {
		return fmt.Sprint(parsed.Detail)
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return resp.Status
}
