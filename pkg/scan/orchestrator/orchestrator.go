// Package orchestrator drives submitted scans through the phase state
// machine: metadata extraction, sampling, PII detection, report generation.
// Each job is owned by exactly one driver goroutine; readers observe
// snapshots.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/audit"
	"github.com/dbsentinel/piiscan/pkg/metrics"
	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/detection"
	"github.com/dbsentinel/piiscan/pkg/scan/jobstore"
	"github.com/dbsentinel/piiscan/pkg/scan/metadata"
	"github.com/dbsentinel/piiscan/pkg/scan/progress"
	"github.com/dbsentinel/piiscan/pkg/scan/qi"
	"github.com/dbsentinel/piiscan/pkg/scan/report"
	"github.com/dbsentinel/piiscan/pkg/scan/sampler"
)

// jobState pairs a job with its driver bookkeeping. The driver goroutine is
// the only mutator of the embedded job; readers snapshot under the mutex.
type jobState struct {
	mu        sync.Mutex
	job       scan.Job
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (st *jobState) snapshot() scan.Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job.Snapshot()
}

// Orchestrator owns the job registry and drives scans through their phases.
type Orchestrator struct {
	provider  scan.ConnectionProvider
	extractor *metadata.Extractor
	sampler   *sampler.ParallelSampler
	pipeline  *detection.Pipeline
	analyzer  *qi.Analyzer
	builder   *report.Builder
	bus       *progress.Bus
	store     jobstore.Store
	auditor   audit.Auditor
	metrics   *metrics.Metrics
	log       *logrus.Logger

	mu    sync.RWMutex
	jobs  map[string]*jobState
	order []string

	wg sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	// Store persists job records across restarts. Nil keeps jobs in memory.
	Store jobstore.Store
	// Auditor receives scan lifecycle events. Nil disables auditing.
	Auditor audit.Auditor
	// Metrics receives pipeline counters. Nil disables metric recording.
	Metrics *metrics.Metrics
}

// New creates an orchestrator over the given components.
func New(
	provider scan.ConnectionProvider,
	strategies []detection.Strategy,
	bus *progress.Bus,
	log *logrus.Logger,
	opts Options,
) (*Orchestrator, error) {
	if err := detection.ValidatePipeline(strategies); err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Orchestrator{
		provider:  provider,
		extractor: metadata.NewExtractor(log),
		sampler:   sampler.NewParallelSampler(sampler.NewSampler(log), log),
		pipeline:  detection.NewPipeline(strategies, log),
		analyzer:  qi.NewAnalyzer(log),
		builder:   report.NewBuilder(),
		bus:       bus,
		store:     opts.Store,
		auditor:   opts.Auditor,
		metrics:   m,
		log:       log,
		jobs:      make(map[string]*jobState),
	}, nil
}

// Submit validates the request, registers the job in PENDING, and enqueues
// its driver goroutine. Never blocks on the scan itself.
func (o *Orchestrator) Submit(ctx context.Context, request scan.ScanRequest) (string, error) {
	if err := request.Normalize(); err != nil {
		return "", err
	}
	if !o.provider.IsValid(request.ConnectionID) {
		return "", errs.Newf(errs.ErrorTypeInvalidRequest, "unknown connection id %q", request.ConnectionID)
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	driverCtx, cancel := context.WithCancel(context.Background())
	st := &jobState{
		job: scan.Job{
			ID:             jobID,
			ConnectionID:   request.ConnectionID,
			Request:        request,
			Phase:          scan.PhasePending,
			CreatedAt:      now,
			LastTransition: now,
		},
		cancel: cancel,
	}

	o.mu.Lock()
	o.jobs[jobID] = st
	o.order = append(o.order, jobID)
	o.mu.Unlock()

	o.persist(st)
	o.metrics.ScansSubmitted.Inc()
	o.submitAudit(audit.ScanSubmittedEvent{JobID: jobID, ConnectionID: request.ConnectionID})
	o.log.WithFields(logrus.Fields{
		"job_id":     jobID,
		"connection": request.ConnectionID,
	}).Info("Scan submitted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(driverCtx, st)
	}()
	return jobID, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(jobID string) (scan.Job, error) {
	st, err := o.lookup(jobID)
	if err != nil {
		return scan.Job{}, err
	}
	return st.snapshot(), nil
}

// List returns snapshots of all known jobs in creation order.
func (o *Orchestrator) List() []scan.Job {
	o.mu.RLock()
	states := make([]*jobState, 0, len(o.order))
	for _, id := range o.order {
		states = append(states, o.jobs[id])
	}
	o.mu.RUnlock()

	jobs := make([]scan.Job, 0, len(states))
	for _, st := range states {
		jobs = append(jobs, st.snapshot())
	}
	return jobs
}

// Cancel requests cooperative cancellation. Idempotent; returns true iff the
// job was non-terminal at call time.
func (o *Orchestrator) Cancel(jobID string) (bool, error) {
	st, err := o.lookup(jobID)
	if err != nil {
		return false, err
	}
	snap := st.snapshot()
	if snap.Terminal() {
		return false, nil
	}
	st.cancelled.Store(true)
	st.cancel()
	o.log.WithField("job_id", jobID).Info("Scan cancellation requested")
	return true, nil
}

// Report returns the compliance report of a completed job.
func (o *Orchestrator) Report(jobID string) (*scan.ComplianceReport, error) {
	st, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	snap := st.snapshot()
	if snap.Phase != scan.PhaseCompleted {
		return nil, errs.NewNotReadyError("report").WithDetailsf("job %s is in phase %s", jobID, snap.Phase)
	}
	return snap.Report, nil
}

// Wait blocks until all driver goroutines have finished. Test and shutdown
// helper.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// RestoreJobs loads persisted jobs from the store. Jobs interrupted mid-run
// by a restart are recorded as failed; exactly-once detection across
// restarts is not guaranteed, so the caller resubmits.
func (o *Orchestrator) RestoreJobs(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	records, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		job := scan.Job{
			ID:             record.JobID,
			ConnectionID:   record.ConnectionID,
			Request:        record.Request,
			Phase:          record.Phase,
			CreatedAt:      record.CreatedAt,
			LastTransition: record.LastUpdate,
			EndedAt:        record.EndedAt,
			ErrorKind:      record.ErrorKind,
			ErrorMessage:   record.ErrorMessage,
			Report:         record.Report,
		}
		if !job.Phase.Terminal() {
			job.Phase = scan.PhaseFailed
			job.ErrorKind = string(errs.ErrorTypeInternal)
			job.ErrorMessage = "scan interrupted by service restart"
			ended := time.Now().UTC()
			job.EndedAt = &ended
		}
		st := &jobState{job: job, cancel: func() {}}

		o.mu.Lock()
		if _, exists := o.jobs[job.ID]; !exists {
			o.jobs[job.ID] = st
			o.order = append(o.order, job.ID)
		}
		o.mu.Unlock()
		o.persist(st)
	}
	return nil
}

// Bus returns the progress bus, for subscribers.
func (o *Orchestrator) Bus() *progress.Bus {
	return o.bus
}

func (o *Orchestrator) lookup(jobID string) (*jobState, error) {
	o.mu.RLock()
	st, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok {
		return nil, errs.NewNotFoundError("job").WithDetails(jobID)
	}
	return st, nil
}

func (o *Orchestrator) persist(st *jobState) {
	if o.store == nil {
		return
	}
	record := jobstore.RecordFromJob(st.snapshot())
	if err := o.store.Put(context.Background(), record); err != nil {
		o.log.WithFields(logrus.Fields{
			"job_id": record.JobID,
			"error":  err,
		}).Error("Failed to persist job record")
	}
}

func (o *Orchestrator) submitAudit(event interface{}) {
	if o.auditor != nil {
		o.auditor.Handle(event)
	}
}
