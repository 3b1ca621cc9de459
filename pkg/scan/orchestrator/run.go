package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/audit"
	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/detection"
	"github.com/dbsentinel/piiscan/pkg/scan/progress"
	"github.com/dbsentinel/piiscan/pkg/scan/sampler"
)

// run drives one job through all phases. It is the only goroutine that
// mutates the job; every exit path releases the connection scope and leaves
// the job in a terminal phase.
func (o *Orchestrator) run(ctx context.Context, st *jobState) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(st, errs.Newf(errs.ErrorTypeInternal, "scan driver panicked: %v", r))
		}
	}()

	startedAt := time.Now().UTC()
	jobID := st.job.ID

	// The live connection scope spans all phases of the job.
	o.advance(st, scan.PhaseExtractingMetadata, "extracting schema metadata")
	conn, err := o.provider.Acquire(ctx, st.job.ConnectionID)
	if err != nil {
		if st.cancelled.Load() {
			o.failCancelled(st)
			return
		}
		o.fail(st, errs.Wrapf(err, errs.ErrorTypeMetadataExtraction, "failed to acquire connection %q", st.job.ConnectionID))
		return
	}
	defer conn.Release()

	snapshot, err := o.extractor.Extract(ctx, conn, st.job.Request.TargetTables)
	if err != nil {
		if st.cancelled.Load() {
			o.failCancelled(st)
			return
		}
		o.fail(st, err)
		return
	}
	if o.checkCancelled(st) {
		return
	}

	// SAMPLING fans out per-column work onto the bounded pool.
	o.advance(st, scan.PhaseSampling, fmt.Sprintf("sampling %d columns", len(snapshot.Columns)))
	samples, err := o.sampler.SampleColumns(ctx, conn, snapshot.Columns, st.job.Request.Sampling,
		o.columnObserver(jobID, scan.PhaseSampling, len(snapshot.Columns)))
	if err != nil {
		if ctx.Err() != nil {
			o.failCancelled(st)
			return
		}
		o.fail(st, err)
		return
	}
	o.metrics.ColumnsSampled.Add(float64(len(samples)))
	if o.checkCancelled(st) {
		return
	}

	// DETECTING_PII runs the strategy pipeline per column, same pool width.
	o.advance(st, scan.PhaseDetectingPii, "running detection strategies")
	results, err := o.detectColumns(ctx, st, snapshot, samples)
	if err != nil {
		if ctx.Err() != nil {
			o.failCancelled(st)
			return
		}
		o.fail(st, errs.Wrap(err, errs.ErrorTypePiiDetection, "detection pipeline failed"))
		return
	}
	o.metrics.ColumnsDetected.Add(float64(len(results)))
	if o.checkCancelled(st) {
		return
	}

	// Quasi-identifier analysis and report assembly share the final phase.
	o.advance(st, scan.PhaseGeneratingReport, "correlating quasi-identifiers and assembling report")
	groups := o.analyzer.Analyze(snapshot, samples, results, st.job.Request.Qi)
	o.metrics.QiGroupsFormed.Add(float64(len(groups)))
	for _, group := range groups {
		o.publish(st, progress.Event{
			JobID:   jobID,
			Type:    progress.EventQiGroupFormed,
			Phase:   scan.PhaseGeneratingReport,
			Message: fmt.Sprintf("group %s with %d columns, risk %.2f", group.GroupID, len(group.Columns), group.ReIdentificationRisk),
		})
	}
	if o.checkCancelled(st) {
		return
	}

	finishedAt := time.Now().UTC()
	rep := o.builder.Build(jobID, snapshot, results, groups, st.job.Request, startedAt, finishedAt)
	o.metrics.PiiColumnsFound.Add(float64(rep.PiiColumnCount))

	st.mu.Lock()
	reportPhaseSeconds := finishedAt.Sub(st.job.LastTransition).Seconds()
	st.job.Report = rep
	st.job.Phase = scan.PhaseCompleted
	st.job.LastTransition = finishedAt
	st.job.EndedAt = &finishedAt
	st.mu.Unlock()

	o.persist(st)
	o.metrics.ScansCompleted.Inc()
	o.metrics.PhaseDuration.WithLabelValues(string(scan.PhaseGeneratingReport)).Observe(reportPhaseSeconds)
	o.submitAudit(audit.ScanCompletedEvent{
		JobID:          jobID,
		PiiColumnCount: rep.PiiColumnCount,
		QiColumnCount:  rep.QiColumnCount,
	})
	o.publish(st, progress.Event{
		JobID: jobID,
		Type:  progress.EventScanCompleted,
		Phase: scan.PhaseCompleted,
		Counts: map[string]int{
			"tables":     rep.TableCount,
			"columns":    rep.ColumnCount,
			"piiColumns": rep.PiiColumnCount,
			"qiColumns":  rep.QiColumnCount,
			"qiGroups":   len(rep.QiGroups),
		},
		Message: "scan completed",
	})
	o.log.WithFields(logrus.Fields{
		"job_id":      jobID,
		"pii_columns": rep.PiiColumnCount,
		"qi_groups":   len(rep.QiGroups),
		"duration":    finishedAt.Sub(startedAt).String(),
	}).Info("Scan completed")
}

// detectColumns runs the pipeline with per-column progress and PII events.
func (o *Orchestrator) detectColumns(ctx context.Context, st *jobState, snapshot *scan.SchemaSnapshot, samples map[scan.ColumnRef]*scan.SampleData) (map[scan.ColumnRef]*scan.DetectionResult, error) {
	jobID := st.job.ID
	total := len(snapshot.Columns)

	// Completion events are serialized so the published progress ratio never
	// regresses within the phase.
	var mu sync.Mutex
	processed := 0

	obs := detection.ColumnObserver{
		OnStart: func(ref scan.ColumnRef) {
			o.publish(st, progress.Event{
				JobID:  jobID,
				Type:   progress.EventColumnStarted,
				Phase:  scan.PhaseDetectingPii,
				Column: ref.FullyQualifiedName(),
			})
		},
		OnComplete: func(ref scan.ColumnRef, result *scan.DetectionResult) {
			mu.Lock()
			defer mu.Unlock()
			processed++
			if result != nil && result.IsPii {
				o.publish(st, progress.Event{
					JobID:   jobID,
					Type:    progress.EventPiiDetected,
					Phase:   scan.PhaseDetectingPii,
					Column:  ref.FullyQualifiedName(),
					PiiType: result.HighestConfidenceType,
				})
			}
			o.publish(st, progress.Event{
				JobID:  jobID,
				Type:   progress.EventColumnCompleted,
				Phase:  scan.PhaseDetectingPii,
				Column: ref.FullyQualifiedName(),
			})
			o.publish(st, progress.Event{
				JobID:    jobID,
				Type:     progress.EventProgressUpdated,
				Phase:    scan.PhaseDetectingPii,
				Progress: float64(processed) / float64(total),
			})
		},
	}
	return o.pipeline.DetectColumns(ctx, snapshot.Columns, samples, st.job.Request.Detection,
		st.job.Request.Sampling.MaxConcurrentDBQueries, obs)
}

// columnObserver builds the sampling-phase observer emitting per-column and
// overall-progress events.
func (o *Orchestrator) columnObserver(jobID string, phase scan.Phase, total int) sampler.ColumnObserver {
	var mu sync.Mutex
	processed := 0
	st, _ := o.lookup(jobID)
	return sampler.ColumnObserver{
		OnStart: func(ref scan.ColumnRef) {
			o.publish(st, progress.Event{
				JobID:  jobID,
				Type:   progress.EventColumnStarted,
				Phase:  phase,
				Column: ref.FullyQualifiedName(),
			})
		},
		OnComplete: func(ref scan.ColumnRef, failed bool) {
			mu.Lock()
			defer mu.Unlock()
			processed++
			event := progress.Event{
				JobID:  jobID,
				Type:   progress.EventColumnCompleted,
				Phase:  phase,
				Column: ref.FullyQualifiedName(),
			}
			if failed {
				event.Message = "sampling failed"
			}
			o.publish(st, event)
			o.publish(st, progress.Event{
				JobID:    jobID,
				Type:     progress.EventProgressUpdated,
				Phase:    phase,
				Progress: float64(processed) / float64(total),
			})
		},
	}
}

// advance transitions the job into the next phase and emits PhaseChanged
// before any work of that phase starts.
func (o *Orchestrator) advance(st *jobState, phase scan.Phase, message string) {
	now := time.Now().UTC()

	st.mu.Lock()
	if !st.job.Phase.CanTransitionTo(phase) {
		st.mu.Unlock()
		o.log.WithFields(logrus.Fields{
			"job_id": st.job.ID,
			"from":   st.job.Phase,
			"to":     phase,
		}).Error("Illegal phase transition suppressed")
		return
	}
	previous := st.job.Phase
	elapsed := now.Sub(st.job.LastTransition)
	st.job.Phase = phase
	st.job.LastTransition = now
	st.mu.Unlock()

	if previous != scan.PhasePending {
		o.metrics.PhaseDuration.WithLabelValues(string(previous)).Observe(elapsed.Seconds())
	}

	o.persist(st)
	o.publish(st, progress.Event{
		JobID:   st.job.ID,
		Type:    progress.EventPhaseChanged,
		Phase:   phase,
		Message: message,
	})
}

// checkCancelled fails the job with reason cancelled when a cancellation
// request arrived; called at every phase boundary.
func (o *Orchestrator) checkCancelled(st *jobState) bool {
	if !st.cancelled.Load() {
		return false
	}
	o.failCancelled(st)
	return true
}

func (o *Orchestrator) failCancelled(st *jobState) {
	o.metrics.ScansCancelled.Inc()
	o.submitAudit(audit.ScanCancelledEvent{JobID: st.job.ID})
	o.fail(st, errs.NewCancelledError())
}

// fail moves the job to FAILED with the typed error kind and original message.
func (o *Orchestrator) fail(st *jobState, err error) {
	kind := errs.GetType(err)
	now := time.Now().UTC()

	st.mu.Lock()
	if st.job.Phase.Terminal() {
		st.mu.Unlock()
		return
	}
	st.job.Phase = scan.PhaseFailed
	st.job.ErrorKind = string(kind)
	st.job.ErrorMessage = err.Error()
	st.job.LastTransition = now
	st.job.EndedAt = &now
	st.mu.Unlock()

	o.persist(st)
	if kind != errs.ErrorTypeCancelled {
		o.metrics.ScansFailed.Inc()
		o.submitAudit(audit.ScanFailedEvent{JobID: st.job.ID, ErrorKind: string(kind), Message: err.Error()})
	}
	o.publish(st, progress.Event{
		JobID:   st.job.ID,
		Type:    progress.EventScanFailed,
		Phase:   scan.PhaseFailed,
		Message: err.Error(),
	})
	o.log.WithFields(logrus.Fields{
		"job_id": st.job.ID,
		"kind":   kind,
		"error":  err,
	}).Warn("Scan failed")
}

// publish emits to the progress bus. Once the job is cancelled only
// PhaseChanged and ScanFailed events still go out; the bus itself never
// blocks the driver.
func (o *Orchestrator) publish(st *jobState, event progress.Event) {
	if st != nil && st.cancelled.Load() && event.Type != progress.EventScanFailed && event.Type != progress.EventPhaseChanged {
		// Cancellation is checked before emitting per-column events so a
		// cancelled scan quiesces quickly.
		return
	}
	o.bus.Publish(event)
}
