package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxAttempts > 0 switches to a fixed delay of InitialInterval between
	// at most MaxAttempts calls.
	MaxAttempts int
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// InstanceRetryConfig covers the few seconds the backend needs to provision
// a WhatsApp instance after its client record is created.
func InstanceRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 2 * time.Second,
		MaxAttempts:     3,
	}
}

func (c *RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if c.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(c.InitialInterval), uint64(c.MaxAttempts-1))
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.InitialInterval
		exp.MaxInterval = c.MaxInterval
		exp.MaxElapsedTime = c.MaxElapsedTime
		b = exp
	}
	return backoff.WithContext(b, ctx)
}

// WithRetryNotify executes operation with retry logic. Only errors accepted
// by retryable are retried; a nil retryable retries every error. notify, when
// set, is called before every wait.
func WithRetryNotify(ctx context.Context, operation func() error, config *RetryConfig, retryable func(error) bool, notify func(error, time.Duration)) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	op := func() error {
		err := operation()
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, config.backOff(ctx), notify)
}
