// internal/strategy/wait_test.go
package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastPoll(timeout time.Duration) PollOptions {
	return PollOptions{Timeout: timeout, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestWaitUntil(t *testing.T) {
	t.Run("returns once the condition holds", func(t *testing.T) {
		var calls atomic.Int32
		err := WaitUntil(context.Background(), fastPoll(time.Second), func(ctx context.Context) (bool, error) {
			return calls.Add(1) >= 3, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		err := WaitUntil(context.Background(), fastPoll(time.Second), func(ctx context.Context) (bool, error) {
			if calls.Add(1) == 1 {
				return false, errors.New("execution context was destroyed")
			}
			return true, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("times out", func(t *testing.T) {
		start := time.Now()
		err := WaitUntil(context.Background(), fastPoll(50*time.Millisecond), func(ctx context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrConditionTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("persistent errors still end in a timeout", func(t *testing.T) {
		err := WaitUntil(context.Background(), fastPoll(30*time.Millisecond), func(ctx context.Context) (bool, error) {
			return false, errors.New("boom")
		})
		assert.ErrorIs(t, err, ErrConditionTimeout)
	})

	t.Run("parent cancellation is reported as such", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := WaitUntil(ctx, fastPoll(5*time.Second), func(ctx context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrConditionTimeout)
	})
}
