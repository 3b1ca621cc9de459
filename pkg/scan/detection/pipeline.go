package detection

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// ColumnObserver receives per-column progress callbacks from the pipeline.
// Both callbacks may be nil.
type ColumnObserver struct {
	OnStart    func(ref scan.ColumnRef)
	OnComplete func(ref scan.ColumnRef, result *scan.DetectionResult)
}

// Pipeline composes detection strategies per column with an early-exit
// policy and aggregates the produced candidates into DetectionResults.
type Pipeline struct {
	strategies []Strategy
	log        *logrus.Logger
}

// NewPipeline creates a pipeline over the given strategy registry. The
// registry is sorted by rank once; evaluation order is HEURISTIC, REGEX, NER.
func NewPipeline(strategies []Strategy, log *logrus.Logger) *Pipeline {
	sorted := append([]Strategy(nil), strategies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank() < sorted[j].Rank() })
	return &Pipeline{strategies: sorted, log: log}
}

// DetectColumn evaluates the strategy registry against one column.
// With StopOnHighConfidence set, any candidate reaching the reporting
// threshold short-circuits the remaining strategies. A strategy error is
// recorded on the result and the remaining strategies still run.
func (p *Pipeline) DetectColumn(ctx context.Context, col scan.ColumnDescriptor, sample *scan.SampleData, cfg scan.DetectionConfig) *scan.DetectionResult {
	result := &scan.DetectionResult{Ref: col.Ref}

	if sample != nil && sample.Failed() {
		// Columns that failed sampling are reported with an empty candidate
		// list and the sampling error annotation.
		result.SamplingError = sample.Error
		return result
	}

	thresholds := make(map[string]float64, len(p.strategies))
	ranks := make(map[string]int, len(p.strategies))

	for _, strategy := range p.strategies {
		thresholds[strategy.ID()] = strategy.Threshold(cfg)
		ranks[strategy.ID()] = strategy.Rank()

		candidates, err := strategy.Detect(ctx, col, sample, cfg)
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"column":   col.Ref.FullyQualifiedName(),
				"strategy": strategy.ID(),
				"error":    err,
			}).Warn("Detection strategy failed, continuing with remaining strategies")
			if result.StrategyErrors == nil {
				result.StrategyErrors = make(map[string]string)
			}
			result.StrategyErrors[strategy.ID()] = err.Error()
			continue
		}
		result.Candidates = append(result.Candidates, candidates...)

		if cfg.StopOnHighConfidence && reachesThreshold(candidates, cfg.ReportingThreshold) {
			break
		}
	}

	finalize(result, thresholds, ranks, cfg.ReportingThreshold)
	return result
}

// DetectColumns runs the pipeline over all columns with bounded concurrency.
// Cancellation is checked before each dispatch; in-flight columns finish and
// the partial result map is returned with the context error.
func (p *Pipeline) DetectColumns(ctx context.Context, columns []scan.ColumnDescriptor, samples map[scan.ColumnRef]*scan.SampleData, cfg scan.DetectionConfig, maxConcurrent int, obs ColumnObserver) (map[scan.ColumnRef]*scan.DetectionResult, error) {
	results := make(map[scan.ColumnRef]*scan.DetectionResult, len(columns))
	if len(columns) == 0 {
		return results, nil
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(maxConcurrent))

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

			result := p.DetectColumn(ctx, col, samples[col.Ref], cfg)

			mu.Lock()
			results[col.Ref] = result
			mu.Unlock()

			if obs.OnComplete != nil {
				obs.OnComplete(col.Ref, result)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}

// finalize derives the highest-confidence fields, the isPii flag, and the
// reported candidate list. Ties on score are broken by strategy rank, the
// higher-priority strategy winning.
func finalize(result *scan.DetectionResult, thresholds map[string]float64, ranks map[string]int, reportingThreshold float64) {
	best := -1
	for i, c := range result.Candidates {
		if best == -1 {
			best = i
			continue
		}
		current := result.Candidates[best]
		if c.Confidence > current.Confidence ||
			(c.Confidence == current.Confidence && ranks[c.StrategyID] < ranks[current.StrategyID]) {
			best = i
		}
	}
	if best >= 0 {
		result.HighestConfidenceType = result.Candidates[best].PiiType
		result.HighestConfidenceScore = result.Candidates[best].Confidence
	}

	for _, c := range result.Candidates {
		if threshold, ok := thresholds[c.StrategyID]; ok && c.Confidence >= threshold {
			result.IsPii = true
		}
		if c.Confidence >= reportingThreshold {
			result.ReportedCandidates = append(result.ReportedCandidates, c)
		}
	}
}

func reachesThreshold(candidates []scan.PiiCandidate, threshold float64) bool {
	for _, c := range candidates {
		if c.Confidence >= threshold {
			return true
		}
	}
	return false
}

// ValidatePipeline ensures the registry is usable.
func ValidatePipeline(strategies []Strategy) error {
	if len(strategies) == 0 {
		return errs.New(errs.ErrorTypePiiDetection, "detection pipeline requires at least one strategy")
	}
	return nil
}
