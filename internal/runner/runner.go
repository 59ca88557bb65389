// Package runner fans work out over independent partitions with bounded
// concurrency.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls a Run.
type Options struct {
	Jobs     int           // maximum partitions in flight, NumCPU when <= 0
	Timeout  time.Duration // per partition, none when 0
	FailFast bool          // cancel the remaining partitions after the first failure
	Logger   *slog.Logger
}

// Result is the outcome of one partition.
type Result[R any] struct {
	Partition string
	Value     R
	Err       error
	Elapsed   time.Duration
}

// PartitionError reports which partition failed.
type PartitionError struct {
	Partition string
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v", e.Partition, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Run calls fn once per partition. Results come back in input order. The
// returned error joins every partition failure and is nil when all succeed.
func Run[R any](
	ctx context.Context,
	partitions []string,
	fn func(ctx context.Context, partition string) (R, error),
	opts Options,
) ([]Result[R], error) {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]Result[R], len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, partition := range partitions {
		results[i].Partition = partition
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = &PartitionError{Partition: partition, Err: err}
				return nil
			}

			pctx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}

			start := time.Now()
			value, err := fn(pctx, partition)
			results[i].Value = value
			results[i].Elapsed = time.Since(start)
			if err == nil {
				return nil
			}

			results[i].Err = &PartitionError{Partition: partition, Err: err}
			logger.ErrorContext(ctx, "partition failed", "partition", partition, "error", err)
			if opts.FailFast {
				return results[i].Err
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}
