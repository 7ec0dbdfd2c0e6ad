// Package completion provides the text-completion collaborator used by the
// pattern interpreter and the ethics evaluator, together with the retry,
// rate limiting and timeout wrappers every provider call goes through.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/logger"
)

// Completer turns a prompt into text. Implementations may fail, time out or
// return malformed text; callers treat every error as a collaborator failure.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// ErrUnavailable is returned by the collaborator of provider "none".
var ErrUnavailable = errors.New("completion provider not configured")

// Unavailable returns a Completer that always fails. The whole pipeline then
// runs on its deterministic fallbacks.
func Unavailable() Completer {
	return CompleterFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		return "", &apperrors.CollaboratorError{Op: "complete", Cause: ErrUnavailable}
	})
}

// Config selects and tunes the provider.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int

	// Timeout bounds each call including retries.
	Timeout time.Duration

	MaxRetries   int
	InitialDelay time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// New builds the configured provider wrapped with timeout, retry, rate
// limiting and instrumentation. Wrapping order, outermost first: timeout,
// instrumentation, rate limit, retry, provider.
func New(cfg Config, log logger.Logger, metrics MetricsRecorder) (Completer, error) {
	if log == nil {
		log = logger.Nop()
	}

	var (
		base Completer
		err  error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		base, err = NewOpenAI(cfg)
	case ProviderAnthropic:
		base, err = NewAnthropic(cfg)
	case ProviderNone, "":
		log.Warn("completion provider disabled; all results will be degraded")
		return Instrument(Unavailable(), ProviderNone, metrics), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("completion timeout must be positive, got %s", cfg.Timeout)
	}

	c := WithRetry(base, RetryConfig{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		Logger:       log.With("provider", cfg.Provider),
	})
	if cfg.RateLimit > 0 {
		c = WithRateLimit(c, cfg.RateLimit, cfg.Burst)
	}
	c = Instrument(c, cfg.Provider, metrics)
	return WithTimeout(c, cfg.Timeout), nil
}
