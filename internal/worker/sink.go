package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/notify"
	"github.com/cyclick/cyclick/internal/provider/resilience"
)

// Sink delivers a notification somewhere outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e notify.Event) error
}

// LogSink writes every notification to the log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, e notify.Event) error {
	s.logger.Info().
		Str("event_id", e.ID).
		Str("kind", string(e.Kind)).
		Str("ride_id", e.RideID).
		Str("wallet", e.Wallet).
		Str("title", e.Title).
		Time("occurred_at", e.OccurredAt).
		Msg(e.Message)
	return nil
}

// WebhookSink posts notifications as JSON to an HTTP endpoint through a
// resilient client.
type WebhookSink struct {
	url    string
	client *resilience.Client
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string, client *resilience.Client) *WebhookSink {
	return &WebhookSink{url: url, client: client}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink. Any non-2xx response is an error.
func (s *WebhookSink) Deliver(ctx context.Context, e notify.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", e.ID)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
