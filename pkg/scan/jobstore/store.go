// Package jobstore persists job records so scans survive service restarts.
// The orchestrator mirrors every job mutation into the configured store;
// without one, jobs are in-memory only.
package jobstore

import (
	"context"
	"time"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Record is the persisted shape of a job. The report is stored inline when
// present; a scan interrupted by a restart is reported as failed on load.
type Record struct {
	JobID        string                 `json:"jobId"`
	ConnectionID string                 `json:"connectionId"`
	Phase        scan.Phase             `json:"phase"`
	Request      scan.ScanRequest       `json:"request"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastUpdate   time.Time              `json:"lastUpdate"`
	EndedAt      *time.Time             `json:"endedAt,omitempty"`
	ErrorKind    string                 `json:"errorKind,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Report       *scan.ComplianceReport `json:"report,omitempty"`
}

// RecordFromJob snapshots a job into its persisted form.
func RecordFromJob(job scan.Job) Record {
	return Record{
		JobID:        job.ID,
		ConnectionID: job.ConnectionID,
		Phase:        job.Phase,
		Request:      job.Request,
		CreatedAt:    job.CreatedAt,
		LastUpdate:   job.LastTransition,
		EndedAt:      job.EndedAt,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		Report:       job.Report,
	}
}

// Store is the durability port for job records.
type Store interface {
	// Put creates or replaces the record for its job id.
	Put(ctx context.Context, record Record) error
	// Get returns the record, or (nil, nil) when unknown.
	Get(ctx context.Context, jobID string) (*Record, error)
	// List returns all records in creation order.
	List(ctx context.Context) ([]Record, error)
	// Delete removes the record; deleting an unknown id is a no-op.
	Delete(ctx context.Context, jobID string) error
}
