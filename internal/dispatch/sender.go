// Package dispatch contains Sender implementations for delivering an
// approved draft's text to its recipients.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petrijr/relay/pkg/api"
)

// HTTPSender dispatches messages through a WhatsApp-gateway style HTTP
// API: one form-encoded POST to {BaseURL}/send/text per recipient, with
// the account token in a "token" header.
//
// Send fans out to all configured recipients. Failures are classified
// for the retry policy: rate limiting (429), server errors (5xx) and
// network faults are retryable; other client errors are not. Note that
// retrying a partially failed broadcast re-sends to every recipient;
// the gateway does not deduplicate, which matches the upstream API's
// behavior.
type HTTPSender struct {
	BaseURL    string
	Token      string
	Recipients []string

	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client

	Logger *slog.Logger
}

var _ api.Sender = (*HTTPSender)(nil)

func (s *HTTPSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *HTTPSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *HTTPSender) Send(ctx context.Context, text string) error {
	if len(s.Recipients) == 0 {
		return api.NonRetryable(errors.New("dispatch: no recipients configured"))
	}

	var failures []error
	retryable := false
	for _, number := range s.Recipients {
		if err := s.sendOne(ctx, number, text); err != nil {
			s.logger().Error("dispatch to recipient failed",
				slog.String("recipient", number),
				slog.Any("error", err),
			)
			failures = append(failures, err)
			if api.IsRetryable(err) {
				retryable = true
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}

	err := fmt.Errorf("dispatch: %d/%d recipients failed: %w",
		len(failures), len(s.Recipients), errors.Join(failures...))
	if retryable {
		return api.Retryable(err)
	}
	return api.NonRetryable(err)
}

func (s *HTTPSender) sendOne(ctx context.Context, number, text string) error {
	form := url.Values{}
	form.Set("number", number)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.BaseURL, "/")+"/send/text",
		strings.NewReader(form.Encode()))
	if err != nil {
		return api.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("token", s.Token)

	resp, err := s.client().Do(req)
	if err != nil {
		return api.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}

	// Keep a snippet of the body for diagnostics.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("send to %s: HTTP %d: %s", number, resp.StatusCode, string(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return api.Retryable(err)
	}
	return api.NonRetryable(err)
}
