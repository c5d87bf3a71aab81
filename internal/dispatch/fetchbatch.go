package dispatch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// BoundedBatchFetcher adapts a per-height fetch function into a
// FetchBlocksFunc that fans requests out across concurrency goroutines
// while preserving the requested height order in its result — the same
// shape as a batched RPC client fetching one block per call.
func BoundedBatchFetcher[B any](concurrency int, fetchOne func(ctx context.Context, h Height) (B, error)) FetchBlocksFunc[B] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return func(ctx context.Context, heights []Height) ([]B, error) {
		results := make([]B, len(heights))
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(concurrency)

		for i, h := range heights {
			i, h := i, h
			eg.Go(func() error {
				b, err := fetchOne(egCtx, h)
				if err != nil {
					return err
				}
				results[i] = b
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}
}

// WithRetry wraps a per-height fetch function with exponential backoff,
// retrying up to maxAttempts times on any error the function returns —
// the same backoff shape a flaky upstream data source needs, without
// tying the fetch loop to any one provider's failure modes.
func WithRetry[B any](maxAttempts uint64, base time.Duration, fetchOne func(ctx context.Context, h Height) (B, error)) func(ctx context.Context, h Height) (B, error) {
	return func(ctx context.Context, h Height) (B, error) {
		backoff := retry.WithMaxRetries(maxAttempts, retry.NewExponential(base))
		var result B
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			r, err := fetchOne(ctx, h)
			if err != nil {
				return retry.RetryableError(err)
			}
			result = r
			return nil
		})
		return result, err
	}
}
