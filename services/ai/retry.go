package ai

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/models"
)

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// ExtractWithRetry retries transient failures with exponential backoff and
// returns the number of attempts made. Non-transient errors return at once.
func ExtractWithRetry(ctx context.Context, extractor interfaces.RequirementExtractor, text string, policy RetryPolicy) (*models.ExtractedRequirements, int, error) {
	return Retry(ctx, policy, "extraction", func(ctx context.Context) (*models.ExtractedRequirements, error) {
		return extractor.Extract(ctx, text)
	})
}

// Retry calls fn until it succeeds, returns a non-transient error or runs out of attempts.
// A TransientError's RetryAfter stretches the wait up to the policy's MaxBackoff.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	backoff := policy.Backoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !ierrors.IsRetryable(err) {
			return zero, attempt, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := backoff
		var transient *ierrors.TransientError
		if errors.As(err, &transient) && transient.RetryAfter > wait {
			wait = transient.RetryAfter
		}
		if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return zero, policy.MaxAttempts, errors.Wrapf(lastErr, "%s failed after %d attempts", op, policy.MaxAttempts)
}
