package provider

import (
	"context"
	"errors"
	"net"
	"time"

	"casefile/internal/faults"
	"casefile/internal/models"
)

// WithTimeout bounds every Send of t by d. An attempt that runs out of time
// is cancelled and reported as *faults.TimeoutError, including when the
// caller's deadline ends it first. Cancellation of the caller's context is
// returned as the context error.
func WithTimeout(t Transport, d time.Duration) Transport {
	if d <= 0 {
		return t
	}
	return &timeoutTransport{Transport: t, after: d}
}

type timeoutTransport struct {
	Transport
	after time.Duration
}

func (t *timeoutTransport) Send(ctx context.Context, body models.RequestBody) (*models.Completion, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.after)
	defer cancel()

	resp, err := t.Transport.Send(attemptCtx, body)
	if err == nil {
		return resp, nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	var perr *faults.ProviderError
	if errors.As(err, &perr) {
		return nil, err
	}

	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, &faults.TimeoutError{After: t.after, Err: err}
	}
	return nil, err
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
