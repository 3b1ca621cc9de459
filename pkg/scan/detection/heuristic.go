package detection

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// nameRule maps a column-name pattern to a PII type with a base confidence.
type nameRule struct {
	pattern        *regexp.Regexp
	piiType        string
	baseConfidence float64
}

// Rule order matters only for evidence text; all matching rules produce
// candidates. Base weights are deliberately capped below the reporting
// threshold: a column name alone marks candidacy, it never short-circuits
// the value-level strategies through the stop-on-high-confidence policy.
var defaultNameRules = []nameRule{
	{regexp.MustCompile(`(?i)e?[-_]?mail`), PiiTypeEmail, 0.8},
	{regexp.MustCompile(`(?i)^(first|last|middle|full|sur|given|family)?[-_]?name$`), PiiTypePersonName, 0.75},
	{regexp.MustCompile(`(?i)phone|mobile|cell|fax`), PiiTypePhone, 0.8},
	{regexp.MustCompile(`(?i)\bssn\b|social[-_]?security`), PiiTypeSsn, 0.8},
	{regexp.MustCompile(`(?i)birth|\bdob\b`), PiiTypeDob, 0.75},
	{regexp.MustCompile(`(?i)street|address|addr(ess)?[-_]?(line)?[0-9]?$`), PiiTypeAddress, 0.75},
	{regexp.MustCompile(`(?i)passport`), PiiTypePassport, 0.8},
	{regexp.MustCompile(`(?i)credit[-_]?card|card[-_]?(number|num|no)|\bpan\b`), PiiTypeCreditCard, 0.8},
	{regexp.MustCompile(`(?i)\biban\b|bank[-_]?account`), PiiTypeIban, 0.75},
	{regexp.MustCompile(`(?i)ip[-_]?addr(ess)?`), PiiTypeIPAddress, 0.75},
	{regexp.MustCompile(`(?i)national[-_]?id|tax[-_]?id|\btin\b`), PiiTypeNationalID, 0.8},
	{regexp.MustCompile(`(?i)passw(or)?d|\bpwd\b|secret|api[-_]?key`), PiiTypeCredential, 0.8},
	{regexp.MustCompile(`(?i)user[-_]?name|\blogin\b`), PiiTypeUsername, 0.7},
}

// HeuristicStrategy pattern-matches column names and comments against a rule
// set. The rule's base weight is adjusted by the fraction of non-null samples
// when samples are available.
type HeuristicStrategy struct {
	rules []nameRule
}

// NewHeuristicStrategy creates the heuristic strategy with the default rules.
func NewHeuristicStrategy() *HeuristicStrategy {
	return &HeuristicStrategy{rules: defaultNameRules}
}

func (h *HeuristicStrategy) ID() string { return StrategyHeuristic }

func (h *HeuristicStrategy) Rank() int { return 0 }

func (h *HeuristicStrategy) Threshold(cfg scan.DetectionConfig) float64 {
	return cfg.HeuristicThreshold
}

func (h *HeuristicStrategy) Detect(ctx context.Context, col scan.ColumnDescriptor, sample *scan.SampleData, cfg scan.DetectionConfig) ([]scan.PiiCandidate, error) {
	subject := col.Ref.Column
	if col.Comment != "" {
		subject += " " + col.Comment
	}

	var candidates []scan.PiiCandidate
	for _, rule := range h.rules {
		loc := rule.pattern.FindString(subject)
		if loc == "" {
			continue
		}
		confidence := rule.baseConfidence
		if sample != nil && len(sample.Values) > 0 {
			frac := float64(sample.NonNullCount()) / float64(len(sample.Values))
			confidence = weightConfidence(rule.baseConfidence, frac, cfg.EntropyWeighting)
		}
		candidates = append(candidates, scan.PiiCandidate{
			PiiType:    rule.piiType,
			Confidence: clamp(confidence),
			StrategyID: StrategyHeuristic,
			Evidence:   fmt.Sprintf("column name matched %q", strings.TrimSpace(loc)),
		})
	}
	return candidates, nil
}

// weightConfidence combines a rule's base weight with the non-null fraction.
// The multiplicative path is the default; the additive path is the tunable
// alternative kept for operator experimentation.
func weightConfidence(base, frac float64, mode scan.EntropyWeighting) float64 {
	if mode == scan.WeightingAdditive {
		return clamp(base*0.7 + frac*0.3)
	}
	return clamp(base * frac)
}
