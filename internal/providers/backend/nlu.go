package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vcni/internal/domain"
)

// Dispatch sends a finalized command for interpretation.
func (c *Client) Dispatch(ctx context.Context, req domain.CommandRequest) (domain.CommandResult, error) {
	if req.UserID == "" {
		req.UserID = c.cfg.UserID
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.postJSON(ctx, c.cfg.NLUPath, req, "application/json")
	if err != nil {
		return domain.CommandResult{}, &domain.DispatchError{Err: fmt.Errorf("nlu request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.CommandResult{}, &domain.DispatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", errorDetail(resp))}
	}

	var result domain.CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.CommandResult{}, &domain.DispatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode nlu response: %w", err)}
	}
	if result.UIMode == "" {
		result.UIMode = domain.UIModeForIntent(result.Intent)
	}

	c.log.Debug().
		Str("intent", result.Intent).
		Str("uiMode", result.UIMode).
		Dur("latency", time.Since(started)).
		Msg("command interpreted")
	return result, nil
}
