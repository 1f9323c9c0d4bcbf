package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/axetrading/evm-deployer/internal/logging"
	"github.com/axetrading/evm-deployer/internal/record"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Reporter posts deployment records to a webhook.
type Reporter struct {
	URL    string
	Client *http.Client
	Logger *logging.Logger

	// MaxAttempts bounds retries of transient failures; zero retries until
	// the context is done.
	MaxAttempts int
}

// Send delivers d to the webhook. Transport errors and server errors are
// retried with exponential backoff, client errors are returned immediately.
func (r *Reporter) Send(ctx context.Context, d *record.Deployment) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	nextBackoff := initialBackoff
	backoff := func() error {
		logger.Debug("backing off before retrying", "delay", nextBackoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nextBackoff):
		}
		nextBackoff *= 2
		if nextBackoff > maxBackoff {
			nextBackoff = maxBackoff
		}
		return nil
	}

	for attempt := 1; ; attempt++ {
		status, err := r.post(ctx, client, payload)
		switch {
		case err == nil && status >= 200 && status < 300:
			return nil
		case err == nil && status < 500:
			return fmt.Errorf("unexpected client error status code from report endpoint (%s): %d", r.URL, status)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("failed to send deployment report", "url", r.URL, "error", err)
		default:
			logger.Warn("server error from report endpoint", "url", r.URL, "status", status)
		}
		if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
			return fmt.Errorf("failed to send deployment report after %d attempts", attempt)
		}
		if err := backoff(); err != nil {
			return err
		}
	}
}

func (r *Reporter) post(ctx context.Context, client *http.Client, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
