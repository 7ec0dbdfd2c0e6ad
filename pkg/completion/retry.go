package completion

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/neuroguard/neuroguard/pkg/logger"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 500 * time.Millisecond
	backoffFactor       = 2.0
)

// RetryConfig tunes WithRetry.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	Logger       logger.Logger
}

// WithRetry retries retryable failures with jittered exponential backoff.
// A negative MaxRetries disables retries.
func WithRetry(c Completer, cfg RetryConfig) Completer {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &retrier{next: c, cfg: cfg}
}

type retrier struct {
	next Completer
	cfg  RetryConfig
}

func (r *retrier) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	var lastErr error
	delay := r.cfg.InitialDelay

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Jitter between 0.5x and 1.5x of delay.
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			timer := time.NewTimer(jitter)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		text, err := r.next.Complete(ctx, prompt, temperature)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !Retryable(err) {
			return "", err
		}
		r.cfg.Logger.DebugContext(ctx, "completion attempt failed, retrying",
			"attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("failed after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// RetryableError marks an error as worth retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable reports whether err is transient: rate limiting, server
// errors and network timeouts.
func Retryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.StatusCode)
	}
	var anErr *anthropicsdk.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
