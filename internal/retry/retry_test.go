package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Akaiko1/game-grove/internal/retry"
	"github.com/m-mizutani/gt"
)

func fastConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDo(t *testing.T) {
	errTransient := errors.New("connection reset")
	errFatal := errors.New("bad request")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retry.Do(context.Background(), fastConfig(3), func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", retry.Retryable(errTransient)
			}
			return "ok", nil
		})
		gt.NoError(t, err)
		gt.V(t, got).Equal("ok")
		gt.V(t, calls).Equal(3)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), fastConfig(5), func(ctx context.Context) (int, error) {
			calls++
			return 0, errFatal
		})
		gt.True(t, errors.Is(err, errFatal))
		gt.V(t, calls).Equal(1)
	})

	t.Run("returns unwrapped last error when attempts run out", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), fastConfig(2), func(ctx context.Context) (int, error) {
			calls++
			return 0, retry.Retryable(errTransient)
		})
		gt.V(t, calls).Equal(2)
		gt.True(t, errors.Is(err, errTransient))
		gt.False(t, retry.IsRetryable(err))
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := fastConfig(10)
		cfg.InitialWait = time.Hour
		cfg.MaxWait = time.Hour

		_, err := retry.Do(ctx, cfg, func(ctx context.Context) (int, error) {
			cancel()
			return 0, retry.Retryable(errTransient)
		})
		gt.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRetryable_Nil(t *testing.T) {
	gt.NoError(t, retry.Retryable(nil))
}
