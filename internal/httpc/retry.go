package httpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	StatusCode int
	Message    string
	Code       string // provider error code, if any
	Provider   string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited reports HTTP 429.
func (e *StatusError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsUnauthorized reports HTTP 401.
func (e *StatusError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsServerError reports any 5xx status.
func (e *StatusError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsRetryable reports whether the same request may succeed later.
func (e *StatusError) IsRetryable() bool { return e.IsRateLimited() || e.IsServerError() }

// Retrier sends requests and retries transport failures, 429 and 5xx
// responses with linear backoff.
type Retrier struct {
	Client     *http.Client
	Logger     *slog.Logger
	MaxRetries int
	Delay      time.Duration

	// Decode turns a failed response into an error. The body is closed
	// by the Retrier afterwards.
	Decode func(*http.Response) error

	// Wrap adds provider context to transport and context errors.
	Wrap func(error) error
}

// Do sends the request. The body is re-read for every attempt. Responses
// that are not retried are returned as is, whatever their status.
func (r *Retrier) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, r.wrap(ctx.Err())
			case <-time.After(r.Delay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, r.wrap(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := r.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, r.wrap(ctx.Err())
			}
			lastErr = r.wrap(err)
			r.logger().Warn("request failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = r.Decode(resp)
			resp.Body.Close()
			r.logger().Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (r *Retrier) wrap(err error) error {
	if r.Wrap == nil {
		return err
	}
	return r.Wrap(err)
}

func (r *Retrier) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
