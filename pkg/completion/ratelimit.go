package completion

import (
	"context"

	"golang.org/x/time/rate"
)

// WithRateLimit gates calls through a token bucket of rps requests per
// second. Waiting honors ctx.
func WithRateLimit(c Completer, rps float64, burst int) Completer {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type rateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

func (r *rateLimited) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &RetryableError{Err: err}
	}
	return r.next.Complete(ctx, prompt, temperature)
}
