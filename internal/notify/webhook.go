package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dev-tams/cloudsweep/internal/config"
)

const (
	HeaderCommand  = "X-Cloudsweep-Command"
	HeaderStatus   = "X-Cloudsweep-Status"
	HeaderDelivery = "X-Cloudsweep-Delivery"
)

// webhookPayload is what the endpoint receives. Text carries the summary line so
// chat webhooks that only read "text" still show something useful.
type webhookPayload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
	Event
}

type webhookNotifier struct {
	url       string
	headers   map[string]string
	client    *http.Client
	retries   uint64
	retryWait time.Duration
}

// NewWebhook posts events as JSON to cfg.URL with cfg.Headers added.
func NewWebhook(cfg config.NotificationDetails) (Notifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("config.url is required")
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	return &webhookNotifier{
		url:       url,
		headers:   headers,
		client:    &http.Client{Timeout: 10 * time.Second},
		retries:   2,
		retryWait: 500 * time.Millisecond,
	}, nil
}

// Notify retries transport errors and 5xx answers. Every attempt of one event
// carries the same delivery id so the receiver can drop duplicates.
func (w *webhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(webhookPayload{Source: "cloudsweep", Text: event.Summary(), Event: event})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	delivery := uuid.NewString()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryWait), w.retries),
		ctx,
	)
	return backoff.Retry(func() error {
		return w.post(ctx, body, event, delivery)
	}, policy)
}

func (w *webhookNotifier) post(ctx context.Context, body []byte, event Event, delivery string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCommand, event.Command)
	req.Header.Set(HeaderStatus, event.Status)
	req.Header.Set(HeaderDelivery, delivery)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook answered %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("webhook answered %s", resp.Status))
	}
	return nil
}
