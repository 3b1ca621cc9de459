package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// nerPiiTypes is the set of entity types requested from the NER service.
var nerPiiTypes = []string{PiiTypePersonName, PiiTypeAddress, PiiTypeEmail, PiiTypePhone}

// NerStrategy batches sample values to an external NER service. Calls run
// through a circuit breaker owned by the strategy instance: after
// FailureThreshold consecutive failures the breaker opens and calls fail fast
// with an empty candidate list until ResetTimeoutSeconds elapses.
type NerStrategy struct {
	client        scan.NerClient
	cfg           scan.NerConfig
	breaker       *gobreaker.CircuitBreaker
	log           *logrus.Logger
	onStateChange func(to gobreaker.State)
}

// SetStateObserver installs a callback invoked on breaker state changes,
// typically a metrics gauge. Must be set before the first scan runs.
func (n *NerStrategy) SetStateObserver(fn func(gobreaker.State)) {
	n.onStateChange = fn
}

// NewNerStrategy creates the NER strategy with its process-wide breaker.
func NewNerStrategy(client scan.NerClient, cfg scan.NerConfig, log *logrus.Logger) *NerStrategy {
	cfg.ApplyDefaults()
	s := &NerStrategy{client: client, cfg: cfg, log: log}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ner",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.ResetTimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("NER circuit breaker state changed")
			if s.onStateChange != nil {
				s.onStateChange(to)
			}
		},
	})
	return s
}

func (n *NerStrategy) ID() string { return StrategyNer }

func (n *NerStrategy) Rank() int { return 2 }

func (n *NerStrategy) Threshold(cfg scan.DetectionConfig) float64 {
	return cfg.NerThreshold
}

// BreakerState exposes the breaker state for health reporting.
func (n *NerStrategy) BreakerState() gobreaker.State {
	return n.breaker.State()
}

func (n *NerStrategy) Detect(ctx context.Context, col scan.ColumnDescriptor, sample *scan.SampleData, cfg scan.DetectionConfig) ([]scan.PiiCandidate, error) {
	if n.client == nil || sample == nil || sample.NonNullCount() == 0 {
		return nil, nil
	}

	values := make([]string, 0, n.cfg.MaxSamples)
	for _, v := range sample.Values {
		if !v.Valid {
			continue
		}
		values = append(values, v.String)
		if len(values) == n.cfg.MaxSamples {
			break
		}
	}

	result, err := n.breaker.Execute(func() (interface{}, error) {
		return n.tagWithRetry(ctx, values)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Fail fast while the breaker is open: no candidates, no error.
			return nil, nil
		}
		return nil, err
	}

	entities := result.([]scan.NerEntity)
	counts := make(map[string]int, len(nerPiiTypes))
	for _, e := range entities {
		counts[e.Type]++
	}

	var candidates []scan.PiiCandidate
	batch := float64(len(values))
	for _, piiType := range nerPiiTypes {
		count := counts[piiType]
		if count == 0 {
			continue
		}
		candidates = append(candidates, scan.PiiCandidate{
			PiiType:    piiType,
			Confidence: clamp(float64(count) / batch),
			StrategyID: StrategyNer,
			Evidence:   fmt.Sprintf("%d of %d batched samples tagged", count, len(values)),
		})
	}
	return candidates, nil
}

// tagWithRetry calls the NER service with the per-batch timeout, retrying
// transient failures. One batch counts as a single breaker outcome regardless
// of internal retries; batches are atomic with respect to cancellation.
func (n *NerStrategy) tagWithRetry(ctx context.Context, values []string) ([]scan.NerEntity, error) {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(n.cfg.TimeoutSeconds)*time.Second)
		entities, err := n.client.Tag(callCtx, values, nerPiiTypes)
		cancel()
		if err == nil {
			return entities, nil
		}
		lastErr = err
		n.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err,
		}).Debug("NER call failed")
	}
	return nil, lastErr
}
