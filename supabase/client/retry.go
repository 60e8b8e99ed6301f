package client

import (
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls transient-failure retries.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter randomises backoff by up to this fraction, 0 to 1.
	Jitter               float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry policy used when none is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (r RetryConfig) retryable(status int) bool {
	for _, code := range r.RetryableStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}

// backoff returns the wait before the given attempt, 1-based.
func (r RetryConfig) backoff(attempt int) time.Duration {
	d := float64(r.InitialBackoff) * math.Pow(r.BackoffMultiplier, float64(attempt-1))
	if max := float64(r.MaxBackoff); d > max {
		d = max
	}
	if r.Jitter > 0 {
		d += d * r.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
