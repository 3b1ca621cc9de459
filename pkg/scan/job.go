package scan

import "time"

// Phase is a state in the scan job lifecycle.
type Phase string

const (
	PhasePending            Phase = "PENDING"
	PhaseExtractingMetadata Phase = "EXTRACTING_METADATA"
	PhaseSampling           Phase = "SAMPLING"
	PhaseDetectingPii       Phase = "DETECTING_PII"
	PhaseGeneratingReport   Phase = "GENERATING_REPORT"
	PhaseCompleted          Phase = "COMPLETED"
	PhaseFailed             Phase = "FAILED"
)

// PhaseOrder is the total order of non-failure phases. A job's observed
// phases always form a prefix of this sequence or end in PhaseFailed.
var PhaseOrder = []Phase{
	PhasePending,
	PhaseExtractingMetadata,
	PhaseSampling,
	PhaseDetectingPii,
	PhaseGeneratingReport,
	PhaseCompleted,
}

// Terminal reports whether the phase is a terminal state.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// rank returns the position of p in PhaseOrder, or -1 for FAILED.
func (p Phase) rank() int {
	for i, phase := range PhaseOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

// CanTransitionTo reports whether a job in phase p may move to next.
// Non-terminal phases may advance only to the immediately following phase
// or to FAILED.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	return next.rank() == p.rank()+1
}

// Job tracks one submitted scan. It is mutated only by the driver goroutine
// that owns it; readers receive copies via the orchestrator's snapshot
// accessors.
type Job struct {
	ID             string            `json:"id"`
	ConnectionID   string            `json:"connectionId"`
	Request        ScanRequest       `json:"request"`
	Phase          Phase             `json:"phase"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastTransition time.Time         `json:"lastTransition"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	ErrorKind      string            `json:"errorKind,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
	Report         *ComplianceReport `json:"-"`
}

// Snapshot returns a copy of the job safe to hand to readers. The report is
// shared because it is immutable once emitted.
func (j *Job) Snapshot() Job {
	cp := *j
	if j.EndedAt != nil {
		ended := *j.EndedAt
		cp.EndedAt = &ended
	}
	return cp
}

// Terminal reports whether the job reached a terminal phase.
func (j *Job) Terminal() bool {
	return j.Phase.Terminal()
}
