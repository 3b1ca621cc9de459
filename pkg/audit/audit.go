// Package audit records scan lifecycle events for compliance trails.
// Auditors are registered explicitly at service construction; the Postgres
// auditor persists events to an audit_event table.
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	// Registers the postgres driver used by the audit sink.
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Auditor is notified when noteworthy scan events happen. How events are
// persisted and how errors are handled is up to the implementation.
type Auditor interface {
	Handle(event interface{})
}

// ScanSubmittedEvent records a scan submission.
type ScanSubmittedEvent struct {
	JobID        string `json:"jobId"`
	ConnectionID string `json:"connectionId"`
}

// ScanCompletedEvent records a successful scan.
type ScanCompletedEvent struct {
	JobID          string `json:"jobId"`
	PiiColumnCount int    `json:"piiColumnCount"`
	QiColumnCount  int    `json:"qiColumnCount"`
}

// ScanFailedEvent records a failed scan.
type ScanFailedEvent struct {
	JobID     string `json:"jobId"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

// ScanCancelledEvent records an operator cancellation.
type ScanCancelledEvent struct {
	JobID string `json:"jobId"`
}

// ReportExportedEvent records a report export.
type ReportExportedEvent struct {
	JobID  string `json:"jobId"`
	Format string `json:"format"`
}

// MultiAuditor fans one event out to several auditors.
type MultiAuditor struct {
	auditors []Auditor
}

// NewMultiAuditor creates a fan-out auditor. A nil or empty list is valid and
// makes Handle a no-op.
func NewMultiAuditor(auditors ...Auditor) *MultiAuditor {
	return &MultiAuditor{auditors: auditors}
}

// Register appends another auditor.
func (m *MultiAuditor) Register(a Auditor) {
	m.auditors = append(m.auditors, a)
}

// Handle forwards the event to every registered auditor.
func (m *MultiAuditor) Handle(event interface{}) {
	for _, a := range m.auditors {
		a.Handle(event)
	}
}

const createTableStmt = `
	CREATE TABLE IF NOT EXISTS audit_event (
		id SERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL
	)`

const insertEventStmt = `
	INSERT INTO audit_event (occurred_at, event_type, payload) VALUES ($1, $2, $3)`

// PostgresAuditor persists audit events by writing rows to the audit_event
// table. Write failures are logged, never fatal: auditing must not take the
// scanning service down.
type PostgresAuditor struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresAuditor connects to the audit database and ensures the
// audit_event table exists.
func NewPostgresAuditor(connStr string, log *logrus.Logger) (*PostgresAuditor, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(createTableStmt); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresAuditor{db: db, log: log}, nil
}

// Handle persists the event.
func (p *PostgresAuditor) Handle(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithField("error", err).Error("Failed to marshal audit event")
		return
	}
	eventType := eventTypeName(event)
	if _, err := p.db.Exec(insertEventStmt, time.Now().UTC(), eventType, payload); err != nil {
		p.log.WithFields(logrus.Fields{
			"event_type": eventType,
			"error":      err,
		}).Error("Failed to persist audit event")
	}
}

// Close releases the database handle.
func (p *PostgresAuditor) Close() error {
	return p.db.Close()
}

func eventTypeName(event interface{}) string {
	switch event.(type) {
	case ScanSubmittedEvent, *ScanSubmittedEvent:
		return "scan_submitted"
	case ScanCompletedEvent, *ScanCompletedEvent:
		return "scan_completed"
	case ScanFailedEvent, *ScanFailedEvent:
		return "scan_failed"
	case ScanCancelledEvent, *ScanCancelledEvent:
		return "scan_cancelled"
	case ReportExportedEvent, *ReportExportedEvent:
		return "report_exported"
	default:
		return "unknown"
	}
}
