package scan

import (
	errs "github.com/dbsentinel/piiscan/internal/errors"
)

// SamplingMethod selects how rows are drawn from a column.
type SamplingMethod string

const (
	SamplingRandom     SamplingMethod = "RANDOM"
	SamplingFirstN     SamplingMethod = "FIRST_N"
	SamplingStratified SamplingMethod = "STRATIFIED"
)

// EntropyWeighting selects how a heuristic rule's base weight is combined
// with the column's non-null sample fraction.
type EntropyWeighting string

const (
	WeightingMultiplicative EntropyWeighting = "multiplicative"
	WeightingAdditive       EntropyWeighting = "additive"
)

// SamplingConfig controls the sampling phase.
type SamplingConfig struct {
	SampleSize             int            `json:"sampleSize" yaml:"sample_size"`
	Method                 SamplingMethod `json:"method" yaml:"method"`
	MaxConcurrentDBQueries int            `json:"maxConcurrentDbQueries" yaml:"max_concurrent_db_queries"`
	EntropyEnabled         bool           `json:"entropyEnabled" yaml:"entropy_enabled"`
}

// DefaultSamplingConfig returns the sampling defaults.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		SampleSize:             100,
		Method:                 SamplingRandom,
		MaxConcurrentDBQueries: 4,
		EntropyEnabled:         true,
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *SamplingConfig) ApplyDefaults() {
	def := DefaultSamplingConfig()
	if c.SampleSize == 0 {
		c.SampleSize = def.SampleSize
	}
	if c.Method == "" {
		c.Method = def.Method
	}
	if c.MaxConcurrentDBQueries == 0 {
		c.MaxConcurrentDBQueries = def.MaxConcurrentDBQueries
	}
}

// Validate checks field ranges.
func (c *SamplingConfig) Validate() error {
	if c.SampleSize < 1 || c.SampleSize > 100000 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "sampleSize must be between 1 and 100000, got %d", c.SampleSize)
	}
	switch c.Method {
	case SamplingRandom, SamplingFirstN, SamplingStratified:
	default:
		return errs.Newf(errs.ErrorTypeInvalidRequest, "unknown sampling method %q", c.Method)
	}
	if c.MaxConcurrentDBQueries < 1 || c.MaxConcurrentDBQueries > 64 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "maxConcurrentDbQueries must be between 1 and 64, got %d", c.MaxConcurrentDBQueries)
	}
	return nil
}

// DetectionConfig controls the detection pipeline and strategy thresholds.
type DetectionConfig struct {
	HeuristicThreshold   float64          `json:"heuristicThreshold" yaml:"heuristic_threshold"`
	RegexThreshold       float64          `json:"regexThreshold" yaml:"regex_threshold"`
	NerThreshold         float64          `json:"nerThreshold" yaml:"ner_threshold"`
	ReportingThreshold   float64          `json:"reportingThreshold" yaml:"reporting_threshold"`
	StopOnHighConfidence bool             `json:"stopOnHighConfidence" yaml:"stop_on_high_confidence"`
	EntropyEnabled       bool             `json:"entropyEnabled" yaml:"entropy_enabled"`
	EntropyWeighting     EntropyWeighting `json:"entropyWeighting" yaml:"entropy_weighting"`
}

// DefaultDetectionConfig returns the detection defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		HeuristicThreshold:   0.7,
		RegexThreshold:       0.8,
		NerThreshold:         0.6,
		ReportingThreshold:   0.85,
		StopOnHighConfidence: true,
		EntropyEnabled:       true,
		EntropyWeighting:     WeightingMultiplicative,
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *DetectionConfig) ApplyDefaults() {
	def := DefaultDetectionConfig()
	if c.HeuristicThreshold == 0 {
		c.HeuristicThreshold = def.HeuristicThreshold
	}
	if c.RegexThreshold == 0 {
		c.RegexThreshold = def.RegexThreshold
	}
	if c.NerThreshold == 0 {
		c.NerThreshold = def.NerThreshold
	}
	if c.ReportingThreshold == 0 {
		c.ReportingThreshold = def.ReportingThreshold
	}
	if c.EntropyWeighting == "" {
		c.EntropyWeighting = def.EntropyWeighting
	}
}

// Validate checks that every threshold lies in [0,1].
func (c *DetectionConfig) Validate() error {
	thresholds := map[string]float64{
		"heuristic": c.HeuristicThreshold,
		"regex":     c.RegexThreshold,
		"ner":       c.NerThreshold,
		"reporting": c.ReportingThreshold,
	}
	for name, v := range thresholds {
		if v < 0 || v > 1 {
			return errs.Newf(errs.ErrorTypeInvalidRequest, "%s threshold must be in [0,1], got %v", name, v)
		}
	}
	switch c.EntropyWeighting {
	case WeightingMultiplicative, WeightingAdditive:
	default:
		return errs.Newf(errs.ErrorTypeInvalidRequest, "unknown entropy weighting %q", c.EntropyWeighting)
	}
	return nil
}

// QiConfig controls quasi-identifier correlation analysis.
type QiConfig struct {
	Enabled                   bool     `json:"enabled" yaml:"enabled"`
	MaxDistinctRatio          float64  `json:"maxDistinctRatio" yaml:"max_distinct_ratio"`
	MinDistinctCount          int      `json:"minDistinctCount" yaml:"min_distinct_count"`
	MinCorrelationCoefficient float64  `json:"minCorrelationCoefficient" yaml:"min_correlation_coefficient"`
	MaxColumnsToAnalyze       int      `json:"maxColumnsToAnalyze" yaml:"max_columns_to_analyze"`
	Hints                     []string `json:"hints" yaml:"hints"`
}

// DefaultQiHints is the default list of column-name fragments that make a
// column a quasi-identifier candidate.
var DefaultQiHints = []string{
	"zip", "postal_code", "postcode", "city", "state", "region", "country",
	"gender", "sex", "age", "birth_year", "year_of_birth", "ethnicity",
	"nationality", "occupation", "job_title", "education", "marital",
	"income_bracket", "salary_band", "department",
}

// DefaultQiConfig returns the QI analysis defaults.
func DefaultQiConfig() QiConfig {
	return QiConfig{
		Enabled:                   true,
		MaxDistinctRatio:          0.8,
		MinDistinctCount:          3,
		MinCorrelationCoefficient: 0.7,
		MaxColumnsToAnalyze:       100,
		Hints:                     append([]string(nil), DefaultQiHints...),
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *QiConfig) ApplyDefaults() {
	def := DefaultQiConfig()
	if c.MaxDistinctRatio == 0 {
		c.MaxDistinctRatio = def.MaxDistinctRatio
	}
	if c.MinDistinctCount == 0 {
		c.MinDistinctCount = def.MinDistinctCount
	}
	if c.MinCorrelationCoefficient == 0 {
		c.MinCorrelationCoefficient = def.MinCorrelationCoefficient
	}
	if c.MaxColumnsToAnalyze == 0 {
		c.MaxColumnsToAnalyze = def.MaxColumnsToAnalyze
	}
	if len(c.Hints) == 0 {
		c.Hints = append([]string(nil), def.Hints...)
	}
}

func (c *QiConfig) isZero() bool {
	return !c.Enabled && c.MaxDistinctRatio == 0 && c.MinDistinctCount == 0 &&
		c.MinCorrelationCoefficient == 0 && c.MaxColumnsToAnalyze == 0 && len(c.Hints) == 0
}

// Validate checks field ranges.
func (c *QiConfig) Validate() error {
	if c.MaxDistinctRatio <= 0 || c.MaxDistinctRatio > 1 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "maxDistinctRatio must be in (0,1], got %v", c.MaxDistinctRatio)
	}
	if c.MinDistinctCount < 2 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "minDistinctCount must be at least 2, got %d", c.MinDistinctCount)
	}
	if c.MinCorrelationCoefficient < 0 || c.MinCorrelationCoefficient > 1 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "minCorrelationCoefficient must be in [0,1], got %v", c.MinCorrelationCoefficient)
	}
	if c.MaxColumnsToAnalyze < 2 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "maxColumnsToAnalyze must be at least 2, got %d", c.MaxColumnsToAnalyze)
	}
	return nil
}

// NerConfig controls the external NER service client and its circuit breaker.
type NerConfig struct {
	URL                 string `json:"url" yaml:"url"`
	TimeoutSeconds      int    `json:"timeoutSeconds" yaml:"timeout_seconds"`
	MaxSamples          int    `json:"maxSamples" yaml:"max_samples"`
	RetryAttempts       int    `json:"retryAttempts" yaml:"retry_attempts"`
	FailureThreshold    int    `json:"failureThreshold" yaml:"failure_threshold"`
	ResetTimeoutSeconds int    `json:"resetTimeoutSeconds" yaml:"reset_timeout_seconds"`
}

// DefaultNerConfig returns the NER client defaults.
func DefaultNerConfig() NerConfig {
	return NerConfig{
		TimeoutSeconds:      30,
		MaxSamples:          50,
		RetryAttempts:       2,
		FailureThreshold:    5,
		ResetTimeoutSeconds: 60,
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *NerConfig) ApplyDefaults() {
	def := DefaultNerConfig()
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = def.MaxSamples
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTimeoutSeconds == 0 {
		c.ResetTimeoutSeconds = def.ResetTimeoutSeconds
	}
}

// ScanRequest is the operator submission that starts a scan. Zero-valued
// config fields fall back to the service defaults; after Normalize the
// request holds the effective, post-default values used for the scan.
type ScanRequest struct {
	ConnectionID string          `json:"connectionId" validate:"required"`
	TargetTables []string        `json:"targetTables,omitempty"`
	Sampling     SamplingConfig  `json:"sampling"`
	Detection    DetectionConfig `json:"detection"`
	Qi           QiConfig        `json:"qi"`
}

// Normalize applies defaults to all nested configs and validates ranges.
// A fully zero-valued nested config is treated as unset and replaced by the
// defaults wholesale, so default-true flags survive; a partially populated
// config keeps its explicit flag values. The HTTP surface seeds requests with
// the service defaults before decoding, so absent JSON fields never reach the
// zero-value path.
func (r *ScanRequest) Normalize() error {
	if r.ConnectionID == "" {
		return errs.NewInvalidRequestError("connectionId is required")
	}
	if r.Sampling == (SamplingConfig{}) {
		r.Sampling = DefaultSamplingConfig()
	} else {
		r.Sampling.ApplyDefaults()
	}
	if r.Detection == (DetectionConfig{}) {
		r.Detection = DefaultDetectionConfig()
	} else {
		r.Detection.ApplyDefaults()
	}
	if r.Qi.isZero() {
		r.Qi = DefaultQiConfig()
	} else {
		r.Qi.ApplyDefaults()
	}
	if err := r.Sampling.Validate(); err != nil {
		return err
	}
	if err := r.Detection.Validate(); err != nil {
		return err
	}
	if err := r.Qi.Validate(); err != nil {
		return err
	}
	return nil
}
