package sampler

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// ColumnObserver receives per-column progress callbacks from the parallel
// sampler. Both callbacks may be nil.
type ColumnObserver struct {
	OnStart    func(ref scan.ColumnRef)
	OnComplete func(ref scan.ColumnRef, failed bool)
}

// ParallelSampler schedules column sampling across a bounded worker pool.
// A failure on one column never aborts the others; the failed column is
// recorded as an empty sample with an error annotation. The phase fails only
// when every column failed.
type ParallelSampler struct {
	sampler *Sampler
	log     *logrus.Logger
}

// NewParallelSampler creates a parallel sampler around the given column sampler.
func NewParallelSampler(sampler *Sampler, log *logrus.Logger) *ParallelSampler {
	return &ParallelSampler{sampler: sampler, log: log}
}

// SampleColumns samples every column with at most cfg.MaxConcurrentDBQueries
// in flight. Cancellation is checked before each dispatch: once the context
// is done no new column is started, in-flight columns finish, and the partial
// result map is returned together with the context error.
func (p *ParallelSampler) SampleColumns(ctx context.Context, conn scan.ScopedConnection, columns []scan.ColumnDescriptor, cfg scan.SamplingConfig, obs ColumnObserver) (map[scan.ColumnRef]*scan.SampleData, error) {
	results := make(map[scan.ColumnRef]*scan.SampleData, len(columns))
	if len(columns) == 0 {
		return results, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		succeeded int
	)
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrentDBQueries))

	for _, col := range columns {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		col := col
		wg.Add(1)
		if obs.OnStart != nil {
			obs.OnStart(col.Ref)
		}
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			data, err := p.sampler.SampleColumn(ctx, conn, col, cfg)
			if err != nil {
				p.log.WithFields(logrus.Fields{
					"column": col.Ref.FullyQualifiedName(),
					"error":  err,
				}).Warn("Column sampling failed, continuing with remaining columns")
				annotation := err.Error()
				if cause := errors.Unwrap(err); cause != nil {
					annotation += ": " + cause.Error()
				}
				data = &scan.SampleData{Ref: col.Ref, Error: annotation}
			}

			mu.Lock()
			results[col.Ref] = data
			if err == nil {
				succeeded++
			}
			mu.Unlock()

			if obs.OnComplete != nil {
				obs.OnComplete(col.Ref, err != nil)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	if succeeded == 0 {
		return results, errs.Newf(errs.ErrorTypeDataSampling, "sampling failed for all %d columns", len(columns))
	}
	return results, nil
}
