package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig is the per-service retry policy wrapped around transport
// execution. The dispatcher itself never retries; when a service resolves a
// retry policy, the policy decides which outcomes are retryable and caps the
// attempts, and every attempt is still reported to the statistics recorder
// individually.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. The initial
	// attempt is not counted. Zero disables retrying.
	MaxRetries uint `yaml:"maxRetries"`

	// InitialInterval is the first backoff interval.
	InitialInterval Millis `yaml:"initialIntervalMs"`

	// MaxInterval caps the backoff interval growth.
	MaxInterval Millis `yaml:"maxIntervalMs"`

	// MaxElapsedTime bounds the whole retry sequence. Zero means no bound.
	MaxElapsedTime Millis `yaml:"maxElapsedTimeMs"`

	// Multiplier controls exponential interval growth.
	Multiplier float64 `yaml:"multiplier"`

	// JitterFactor randomizes intervals to avoid synchronized retry storms.
	JitterFactor float64 `yaml:"jitterFactor"`

	// Classifier decides whether an attempt outcome is retryable.
	// Defaults to DefaultRetryClassifier.
	Classifier RetryClassifier `yaml:"-"`
}

// DefaultRetryConfig returns a balanced retry policy: three retries with
// jittered exponential backoff starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: Millis(500 * time.Millisecond),
		MaxInterval:     Millis(30 * time.Second),
		MaxElapsedTime:  Millis(2 * time.Minute),
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// IsEnabled reports whether the policy performs any retries.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

func (c RetryConfig) backOff() backoff.BackOff {
	jitter := c.JitterFactor
	if jitter <= 0 {
		jitter = 0.5
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialInterval.Duration(),
		RandomizationFactor: jitter,
		Multiplier:          multiplier,
		MaxInterval:         c.MaxInterval.Duration(),
	}
}

// RetryClassifier decides whether a failed attempt should be retried.
// It receives the response (possibly nil) and the attempt error.
type RetryClassifier func(resp *http.Response, err error) bool

// DefaultRetryClassifier retries transient network failures and the gateway
// status codes 429, 502, 503, and 504. It never retries an intentional
// cancellation or a client error.
func DefaultRetryClassifier(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return transientNetworkError(err)
	}
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// transientNetworkError reports whether err looks like a failure that may
// succeed on another attempt.
func transientNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return false
}
