package mint

import (
	"context"
	"time"
)

// retryBudget implements the read-only retry discipline of §4.6.6: base 1s,
// cap 5s, up to 3 attempts, exponential backoff in between.
var retryBudget = struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
}{maxAttempts: 3, base: time.Second, cap: 5 * time.Second}

// withReadRetry retries op up to retryBudget.maxAttempts times with
// exponential backoff, for the read-only oracle paths enumerated in §7
// ("Transport ... retried with backoff on read-only paths"). Committing
// calls (mint_proofs, melt_proofs) must never pass through this helper.
func withReadRetry(ctx context.Context, op func(ctx context.Context) error) error {
	delay := retryBudget.base
	var lastErr error
	for attempt := 1; attempt <= retryBudget.maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == retryBudget.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryBudget.cap {
			delay = retryBudget.cap
		}
	}
	return lastErr
}
