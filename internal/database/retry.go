package database

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the retries of idempotent reads
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}

// ReadWithRetry runs an idempotent read, retrying with exponential backoff
// while it reports models.ErrUnavailable. Domain errors return immediately.
func ReadWithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(policy.MaxRetries, retry.NewExponential(policy.BaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && errors.Is(err, models.ErrUnavailable) && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
}
