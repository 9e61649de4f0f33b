package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// callWithRetry runs task up to retries+1 times with a constant delay between
// attempts. Only errors wrapped by retryable are attempted again; the final
// error is returned unwrapped.
func callWithRetry(ctx context.Context, retries int, delay time.Duration, task func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	b := retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
	return retry.Do(ctx, b, task)
}

// retryable marks err for another attempt unless the caller gave up.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.RetryableError(err)
}
