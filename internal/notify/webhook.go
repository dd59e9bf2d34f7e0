package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/doughall/backup-runner/internal/runner"
)

// Webhook posts run outcomes to an HTTP endpoint.
// It wraps go-retryablehttp for automatic retry with backoff.
type Webhook struct {
	url    string
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier for url.
//
// The client is configured with:
//   - RetryMax: 3 retries
//   - RetryWaitMin: 1 second
//   - RetryWaitMax: 10 seconds
//   - Per-attempt timeout: 15 seconds
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff

	// Disable retryablehttp's internal logging - we use slog instead
	retryClient.Logger = nil

	retryClient.HTTPClient.Timeout = 15 * time.Second

	return &Webhook{
		url:    url,
		client: retryClient,
		logger: logger.With(slog.String("component", "webhook")),
	}
}

// Report implements runner.Reporter.
func (w *Webhook) Report(ctx context.Context, rec *runner.Record) error {
	env, err := NewEnvelope(rec)
	if err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("outcome posted",
		slog.Int("status", resp.StatusCode),
		slog.String("kind", rec.Kind),
	)
	return nil
}
