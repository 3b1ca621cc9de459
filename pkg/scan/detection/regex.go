package detection

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// valueRule matches individual sample values for a PII type. An optional
// validate function rejects pattern matches that fail a checksum.
type valueRule struct {
	pattern  *regexp.Regexp
	piiType  string
	validate func(string) bool
}

var defaultValueRules = []valueRule{
	{regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`), PiiTypeEmail, nil},
	{regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`), PiiTypeSsn, nil},
	{regexp.MustCompile(`^[0-9 \-]{13,23}$`), PiiTypeCreditCard, luhnValid},
	{regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{11,30}$`), PiiTypeIban, ibanValid},
	{regexp.MustCompile(`^((25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(25[0-5]|2[0-4]\d|1?\d?\d)$`), PiiTypeIPAddress, nil},
	{regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{6,18}[0-9]$`), PiiTypePhone, hasEnoughDigits},
}

// RegexStrategy applies a catalog of value-level patterns to each non-null
// sample. Each value counts toward the first rule, in catalog order, whose
// pattern and validator it passes, so card numbers, SSNs and IP addresses
// are not also counted as phone numbers. Confidence per PII type is the
// fraction of non-null samples that matched that type.
type RegexStrategy struct {
	rules []valueRule
}

// NewRegexStrategy creates the regex strategy with the default catalog.
func NewRegexStrategy() *RegexStrategy {
	return &RegexStrategy{rules: defaultValueRules}
}

func (r *RegexStrategy) ID() string { return StrategyRegex }

func (r *RegexStrategy) Rank() int { return 1 }

func (r *RegexStrategy) Threshold(cfg scan.DetectionConfig) float64 {
	return cfg.RegexThreshold
}

func (r *RegexStrategy) Detect(ctx context.Context, col scan.ColumnDescriptor, sample *scan.SampleData, cfg scan.DetectionConfig) ([]scan.PiiCandidate, error) {
	if sample == nil || sample.NonNullCount() == 0 {
		return nil, nil
	}

	matches := make(map[string]int, len(r.rules))
	for _, v := range sample.Values {
		if !v.Valid {
			continue
		}
		value := strings.TrimSpace(v.String)
		for _, rule := range r.rules {
			if !rule.pattern.MatchString(value) {
				continue
			}
			if rule.validate != nil && !rule.validate(value) {
				continue
			}
			matches[rule.piiType]++
			break
		}
	}

	nonNull := float64(sample.NonNullCount())
	var candidates []scan.PiiCandidate
	for _, rule := range r.rules {
		count, ok := matches[rule.piiType]
		if !ok || count == 0 {
			continue
		}
		candidates = append(candidates, scan.PiiCandidate{
			PiiType:    rule.piiType,
			Confidence: clamp(float64(count) / nonNull),
			StrategyID: StrategyRegex,
			Evidence:   fmt.Sprintf("%d of %d non-null samples matched", count, int(nonNull)),
		})
	}
	return candidates, nil
}

func hasEnoughDigits(value string) bool {
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

// luhnValid reports whether the digit string (spaces and dashes allowed)
// passes the Luhn checksum.
func luhnValid(value string) bool {
	var digits []int
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ibanValid reports whether the value passes the IBAN mod-97 check.
func ibanValid(value string) bool {
	if len(value) < 15 || len(value) > 34 {
		return false
	}
	rearranged := value[4:] + value[:4]
	remainder := 0
	for _, r := range rearranged {
		var digit int
		switch {
		case r >= '0' && r <= '9':
			digit = int(r - '0')
			remainder = (remainder*10 + digit) % 97
		case r >= 'A' && r <= 'Z':
			digit = int(r-'A') + 10
			remainder = (remainder*100 + digit) % 97
		default:
			return false
		}
	}
	return remainder == 1
}
