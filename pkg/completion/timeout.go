package completion

import (
	"context"
	"errors"
	"time"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

// WithTimeout bounds every call by d. Errors leave as CollaboratorError so
// callers can tell a collaborator failure from their own cancellation.
func WithTimeout(c Completer, d time.Duration) Completer {
	return &timeoutCompleter{next: c, timeout: d}
}

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

func (t *timeoutCompleter) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.next.Complete(callCtx, prompt, temperature)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", asCollaboratorError(r.err)
		}
		return r.text, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", &apperrors.CollaboratorError{Op: "complete", Cause: callCtx.Err()}
	}
}

func asCollaboratorError(err error) error {
	var ce *apperrors.CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &apperrors.CollaboratorError{Op: "complete", Cause: err}
}
