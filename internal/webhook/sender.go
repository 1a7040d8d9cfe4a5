// Package webhook delivers build lifecycle notifications to
// caller-supplied endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Event is the payload POSTed on a build state transition.
type Event struct {
	BuildID   string    `json:"build_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Build     any       `json:"build,omitempty"`
}

// Sender delivers events. Implementations must be safe for concurrent
// use.
type Sender interface {
	Notify(ctx context.Context, url string, event Event) error
}

type httpSender struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// NewHTTPSender returns a Sender that POSTs JSON with exponential
// backoff between attempts.
func NewHTTPSender(timeout time.Duration, maxRetries int) Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &httpSender{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

func (s *httpSender) Notify(ctx context.Context, url string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")

		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New(resp.Status)
			resp.Body.Close()
		}

		backoff := s.baseBackoff * (1 << attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
