// Package detection scores columns for PII types through an ordered registry
// of detection strategies and aggregates candidates into detection results.
package detection

import (
	"context"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Strategy IDs, in priority order. Lower rank wins confidence ties.
const (
	StrategyHeuristic = "HEURISTIC"
	StrategyRegex     = "REGEX"
	StrategyNer       = "NER"
)

// PII type identifiers produced by the built-in strategies.
const (
	PiiTypeEmail      = "EMAIL"
	PiiTypePersonName = "PERSON_NAME"
	PiiTypePhone      = "PHONE"
	PiiTypeSsn        = "SSN"
	PiiTypeCreditCard = "CREDIT_CARD"
	PiiTypeIban       = "IBAN"
	PiiTypeIPAddress  = "IP_ADDRESS"
	PiiTypeAddress    = "ADDRESS"
	PiiTypeDob        = "DATE_OF_BIRTH"
	PiiTypeNationalID = "NATIONAL_ID"
	PiiTypePassport   = "PASSPORT"
	PiiTypeUsername   = "USERNAME"
	PiiTypeCredential = "CREDENTIAL"
)

// Strategy scores one column for PII types with a confidence in [0,1].
// Implementations must be safe for concurrent use across columns.
type Strategy interface {
	// ID returns the stable strategy identifier recorded on candidates.
	ID() string
	// Rank orders strategies for evaluation and confidence tie-breaking;
	// lower ranks run first and win ties.
	Rank() int
	// Threshold returns this strategy's PII decision threshold under cfg.
	Threshold(cfg scan.DetectionConfig) float64
	// Detect scores the column. Returning an error marks the strategy as
	// failed for this column; the pipeline continues with the rest.
	Detect(ctx context.Context, col scan.ColumnDescriptor, sample *scan.SampleData, cfg scan.DetectionConfig) ([]scan.PiiCandidate, error)
}

// clamp bounds a confidence into [0,1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
