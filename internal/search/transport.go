package search

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryTransport rate-limits outgoing requests and retries network errors,
// 429 and 5xx responses with exponential backoff.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	// BaseDelay is the first backoff step; it doubles on every retry.
	BaseDelay time.Duration
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := t.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	ctx := req.Context()
	for i := 0; ; i++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		resp, err := base.RoundTrip(req)
		retryable := err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable || i >= t.MaxRetries || ctx.Err() != nil {
			return resp, err
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		wait := delay << i
		logger.Debug("retrying request",
			zap.String("host", req.URL.Host),
			zap.Int("attempt", i+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClientConfig configures the HTTP client shared by the search providers.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	// RatePerSecond limits outgoing requests; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// NewHTTPClient returns a client using RetryTransport.
func NewHTTPClient(cfg ClientConfig, logger *zap.Logger) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &RetryTransport{
			Base:       http.DefaultTransport,
			MaxRetries: cfg.MaxRetries,
			Limiter:    limiter,
			Logger:     logger,
		},
	}
}
