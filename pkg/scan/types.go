// Package scan defines the core data model shared by the scan pipeline:
// schema metadata, column samples, detection results, quasi-identifier
// groups, and the compliance report.
package scan

import (
	"database/sql"
	"fmt"
	"time"
)

// TypeCategory is the coarse type classification of a column.
type TypeCategory string

const (
	TypeString   TypeCategory = "STRING"
	TypeNumeric  TypeCategory = "NUMERIC"
	TypeDatetime TypeCategory = "DATETIME"
	TypeBinary   TypeCategory = "BINARY"
	TypeBoolean  TypeCategory = "BOOLEAN"
)

// TableType distinguishes base tables from views.
type TableType string

const (
	TableTypeTable TableType = "TABLE"
	TableTypeView  TableType = "VIEW"
)

// ColumnRef identifies a column by schema, table, and column name.
// It is unique within a SchemaSnapshot and safe to use as a map key.
type ColumnRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// FullyQualifiedName returns "schema.table.column".
func (r ColumnRef) FullyQualifiedName() string {
	return fmt.Sprintf("%s.%s.%s", r.Schema, r.Table, r.Column)
}

func (r ColumnRef) String() string {
	return r.FullyQualifiedName()
}

// ColumnDescriptor holds the introspected metadata of a single column.
type ColumnDescriptor struct {
	Ref          ColumnRef    `json:"ref"`
	Category     TypeCategory `json:"category"`
	DataType     string       `json:"dataType"`
	Nullable     bool         `json:"nullable"`
	PrimaryKey   bool         `json:"primaryKey"`
	IsForeignKey bool         `json:"isForeignKey"`
	Size         int          `json:"size,omitempty"`
	Scale        int          `json:"scale,omitempty"`
	Comment      string       `json:"comment,omitempty"`
	Ordinal      int          `json:"ordinal"`
}

// TableDescriptor holds a table and index references into the snapshot arena.
// Columns, Imported, and Exported are indices into the owning snapshot's
// Columns and Relationships slices.
type TableDescriptor struct {
	Name     string    `json:"name"`
	Type     TableType `json:"type"`
	Columns  []int     `json:"columns"`
	Imported []int     `json:"imported,omitempty"`
	Exported []int     `json:"exported,omitempty"`
}

// Relationship is a foreign-key edge between two columns in the snapshot,
// expressed as indices into the snapshot's Columns slice.
type Relationship struct {
	Name       string `json:"name"`
	FromColumn int    `json:"fromColumn"`
	ToColumn   int    `json:"toColumn"`
}

// SchemaSnapshot is the arena holding all introspected metadata for one scan.
// Tables, Columns, and Relationships are flat slices; cross-references are
// indices, never pointers, so the snapshot serializes without cycles.
//
// Invariant: every Relationship endpoint indexes a column present in Columns.
type SchemaSnapshot struct {
	Catalog        string             `json:"catalog"`
	Schema         string             `json:"schema"`
	Tables         []TableDescriptor  `json:"tables"`
	Columns        []ColumnDescriptor `json:"columns"`
	Relationships  []Relationship     `json:"relationships,omitempty"`
	ProductName    string             `json:"productName,omitempty"`
	ProductVersion string             `json:"productVersion,omitempty"`
}

// ColumnByRef returns the index of the column with the given ref, or -1.
func (s *SchemaSnapshot) ColumnByRef(ref ColumnRef) int {
	for i := range s.Columns {
		if s.Columns[i].Ref == ref {
			return i
		}
	}
	return -1
}

// ColumnCount returns the number of columns in the snapshot.
func (s *SchemaSnapshot) ColumnCount() int {
	return len(s.Columns)
}

// SampleData holds the values drawn from one column during the sampling phase.
// Values preserve nulls in place (Valid=false). TotalRows equals the number of
// sampled values; NullCount counts the invalid entries among them.
//
// Invariant: 0 <= NullCount <= len(Values) <= the configured sample size.
type SampleData struct {
	Ref       ColumnRef        `json:"ref"`
	Values    []sql.NullString `json:"-"`
	TotalRows int64            `json:"totalRows"`
	NullCount int              `json:"nullCount"`
	Entropy   *float64         `json:"entropy,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// NonNullCount returns the number of non-null sampled values.
func (s *SampleData) NonNullCount() int {
	return len(s.Values) - s.NullCount
}

// Distribution returns the value -> occurrence count map over non-null values.
func (s *SampleData) Distribution() map[string]int {
	dist := make(map[string]int, len(s.Values))
	for _, v := range s.Values {
		if v.Valid {
			dist[v.String]++
		}
	}
	return dist
}

// DistinctCount returns the number of distinct non-null values.
func (s *SampleData) DistinctCount() int {
	return len(s.Distribution())
}

// Failed reports whether sampling this column failed.
func (s *SampleData) Failed() bool {
	return s.Error != ""
}

// PiiCandidate is one strategy's assessment of a column for a PII type.
type PiiCandidate struct {
	PiiType    string  `json:"piiType"`
	Confidence float64 `json:"confidence"`
	StrategyID string  `json:"strategyId"`
	Evidence   string  `json:"evidence,omitempty"`
}

// DetectionResult aggregates all candidates produced for one column, the
// derived highest-confidence fields, and the quasi-identifier annotations
// filled in after correlation analysis.
type DetectionResult struct {
	Ref                    ColumnRef         `json:"ref"`
	Candidates             []PiiCandidate    `json:"candidates,omitempty"`
	ReportedCandidates     []PiiCandidate    `json:"reportedCandidates,omitempty"`
	HighestConfidenceType  string            `json:"highestConfidenceType,omitempty"`
	HighestConfidenceScore float64           `json:"highestConfidenceScore"`
	IsPii                  bool              `json:"isPii"`
	StrategyErrors         map[string]string `json:"strategyErrors,omitempty"`
	SamplingError          string            `json:"samplingError,omitempty"`

	IsQuasiIdentifier bool     `json:"isQuasiIdentifier"`
	QiRiskScore       float64  `json:"qiRiskScore,omitempty"`
	CorrelatedColumns []string `json:"correlatedColumns,omitempty"`
}

// QuasiIdentifierGroup is a set of correlated non-PII columns whose
// combination can re-identify subjects.
//
// Invariant: every member column has IsPii=false in its DetectionResult, and
// a column belongs to at most one group.
type QuasiIdentifierGroup struct {
	GroupID               string             `json:"groupId"`
	Columns               []ColumnRef        `json:"columns"`
	ClusteringMethod      string             `json:"clusteringMethod"`
	DistinctCombinations  int                `json:"distinctCombinations"`
	SingletonCombinations int                `json:"singletonCombinations"`
	KAnonymityEstimate    float64            `json:"kAnonymityEstimate"`
	ReIdentificationRisk  float64            `json:"reIdentificationRisk"`
	ColumnContributions   map[string]float64 `json:"columnContributions,omitempty"`
}

// PiiFinding is one reported PII column in the compliance report.
type PiiFinding struct {
	Column             ColumnRef      `json:"column"`
	PiiType            string         `json:"piiType"`
	Confidence         float64        `json:"confidence"`
	Candidates         []PiiCandidate `json:"candidates,omitempty"`
	SamplingError      string         `json:"samplingError,omitempty"`
}

// ComplianceReport is the immutable artifact produced by a completed scan.
type ComplianceReport struct {
	ScanID           string                 `json:"scanId"`
	DBProductName    string                 `json:"dbProductName,omitempty"`
	DBProductVersion string                 `json:"dbProductVersion,omitempty"`
	Catalog          string                 `json:"catalog"`
	Schema           string                 `json:"schema"`
	TableCount       int                    `json:"tableCount"`
	ColumnCount      int                    `json:"columnCount"`
	PiiColumnCount   int                    `json:"piiColumnCount"`
	QiColumnCount    int                    `json:"qiColumnCount"`
	StartedAt        time.Time              `json:"startedAt"`
	FinishedAt       time.Time              `json:"finishedAt"`
	SamplingConfig   SamplingConfig         `json:"samplingConfig"`
	DetectionConfig  DetectionConfig        `json:"detectionConfig"`
	QiConfig         QiConfig               `json:"qiConfig"`
	Findings         []PiiFinding           `json:"findings"`
	QiGroups         []QuasiIdentifierGroup `json:"qiGroups"`
}
