package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrConditionTimeout is returned by WaitUntil when the condition never held
// within its budget.
var ErrConditionTimeout = errors.New("condition not met before timeout")

var errNotYet = errors.New("condition not yet met")

// Condition reports whether the awaited page state has been reached.
// Returned errors are treated as transient; the page may be mid-render.
type Condition func(ctx context.Context) (bool, error)

// PollOptions bounds a WaitUntil loop.
type PollOptions struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// WaitUntil evaluates cond with exponential backoff until it holds, the
// timeout elapses, or ctx is cancelled. Cancellation of ctx is returned as
// is so callers can tell it apart from ErrConditionTimeout.
func WaitUntil(ctx context.Context, opts PollOptions, cond Condition) error {
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.MaxElapsedTime = opts.Timeout
	b.RandomizationFactor = 0.2

	operation := func() error {
		ok, err := cond(waitCtx)
		if err != nil {
			return err
		}
		if !ok {
			return errNotYet
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(b, waitCtx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if !errors.Is(err, errNotYet) && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrConditionTimeout, err)
	}
	return ErrConditionTimeout
}
