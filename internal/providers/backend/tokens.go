package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vcni/internal/domain"
)

type tokenResponse struct {
	Token string `json:"token"`
}

// FetchToken requests a temporary streaming transcription token.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.TokenPath), nil)
	if err != nil {
		return "", &domain.ConnectionError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &domain.ConnectionError{Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.ConnectionError{Err: fmt.Errorf("token request returned %d: %s", resp.StatusCode, errorDetail(resp))}
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &domain.ConnectionError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	token := strings.TrimSpace(decoded.Token)
	if token == "" {
		return "", &domain.ConnectionError{Err: errors.New("token response did not include a token")}
	}
	return token, nil
}
