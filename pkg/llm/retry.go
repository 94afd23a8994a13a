package llm

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 3 * time.Second
	defaultBackoffFactor  = 2.0
)

// retryableStatusCodes are the upstream HTTP statuses worth a retry: rate
// limiting and transient server-side failure, never a 4xx client error.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryConfig encapsulates exponential backoff settings for RetryHandler.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.Multiplier <= 1 {
		c.Multiplier = defaultBackoffFactor
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// RetryHandler wraps a fallible operation with exponential backoff, retrying
// only errors isRetryable recognizes as transient.
type RetryHandler struct {
	cfg RetryConfig
}

// NewRetryHandler constructs a handler, filling in defaults for zero fields.
func NewRetryHandler(cfg RetryConfig) *RetryHandler {
	return &RetryHandler{cfg: cfg.withDefaults()}
}

// Do runs fn, retrying on transient failure until it succeeds, a non-retryable
// error surfaces, the attempt budget is exhausted, or ctx is cancelled.
func (r *RetryHandler) Do(ctx context.Context, fn func() error) error {
	backoff := r.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= r.cfg.MaxRetries {
			return err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		backoff = nextBackoff(backoff, r.cfg.Multiplier, r.cfg.MaxBackoff)
	}
}

func nextBackoff(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	scaled := float64(current) * multiplier
	return time.Duration(math.Min(float64(max), scaled))
}

// isRetryable reports whether err represents a transient failure worth
// another attempt: a rate-limit/5xx response from the provider, a marked-
// temporary net.Error, or an unclassified transport-level net.OpError.
// Context cancellation/deadline errors are never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retryableStatusCodes[apiErr.StatusCode]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Temporary() {
		return true
	}

	// Unclassified transport errors: retry to be safe rather than fail a
	// cycle on what might be a one-off dial/read hiccup.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
