package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Retry runs fn up to maxAttempts times, sleeping with jittered exponential
// backoff (base, ±25%) between attempts. fn's shouldRetry decides whether a
// given error is transient; a non-transient error returns immediately.
func Retry(ctx context.Context, maxAttempts int, base time.Duration, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	wait := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			jittered := jitter(wait)
			timer := time.NewTimer(jittered)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
