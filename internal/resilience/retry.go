// Package resilience implements the store's batch-write failure policy:
// a single document write failure inside a batch is retried once with
// that document excluded, rather than aborting the whole batch.
//
// This narrows the teacher's circuit-breaker pattern (atomic state,
// context-aware execution, panic recovery) down to the one policy
// spec.md §7 actually calls for: isolate a bad document instead of
// tripping a breaker and isolating a whole dependency.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrExcluded is wrapped into the error BatchRetry returns when one or
// more documents were dropped from the batch to let the retry succeed.
var ErrExcluded = errors.New("one or more documents excluded from batch after write failure")

// WriteFunc commits a batch of documents identified by path. It returns
// the path of the first document whose write failed, if any, along with
// the underlying error.
type WriteFunc func(ctx context.Context, paths []string) (failedPath string, err error)

// Stats tracks how many batches needed a retry, for metrics/logging.
type Stats struct {
	Attempts int64
	Retries  int64
}

// BatchRetry runs write once over paths. If it fails on a single
// document, that document is excluded and the remaining batch is retried
// exactly once. A second failure is returned to the caller, not marked
// ErrExcluded, so
// the indexer can log it and move on to the next batch, per spec.md §4.E
// ("A Store write failure on a single document aborts the current batch,
// logs, and continues with the next batch").
func BatchRetry(ctx context.Context, stats *Stats, paths []string, write WriteFunc) ([]string, error) {
	if stats != nil {
		atomic.AddInt64(&stats.Attempts, 1)
	}

	failed, err := write(ctx, paths)
	if err == nil {
		return paths, nil
	}
	if failed == "" {
		// The failure isn't attributable to one document; nothing to
		// exclude, so the caller should treat the whole batch as failed.
		return nil, err
	}

	excluded := make([]string, 0, len(paths)-1)
	for _, p := range paths {
		if p != failed {
			excluded = append(excluded, p)
		}
	}

	if stats != nil {
		atomic.AddInt64(&stats.Retries, 1)
	}

	if _, err := write(ctx, excluded); err != nil {
		return nil, fmt.Errorf("retry after excluding %s: %w", failed, err)
	}
	return excluded, fmt.Errorf("%w: %s", ErrExcluded, failed)
}
