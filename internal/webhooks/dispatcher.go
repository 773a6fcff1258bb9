// Package webhooks delivers signed decision payloads over HTTP, either
// directly or through a Cloud Tasks queue.
package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Sender posts payloads to one webhook URL. It makes a single attempt per
// call; retries are the caller's decision.
type Sender struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *log.Logger
}

// NewSender creates a sender. timeout bounds each delivery in addition to
// any deadline on the caller's context.
func NewSender(url, secret string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.New(log.Writer(), "[WEBHOOK] ", log.LstdFlags),
	}
}

// URL returns the target URL.
func (s *Sender) URL() string { return s.url }

// Deliver POSTs payload. A non-2xx/3xx response is an error.
func (s *Sender) Deliver(ctx context.Context, eventType, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	for k, v := range deliveryHeaders(eventType, eventID, s.secret, payload) {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery to %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned %d", s.url, resp.StatusCode)
	}
	s.logger.Printf("✅ Webhook delivered: %s → %s (%s)", eventType, s.url, eventID)
	return nil
}
