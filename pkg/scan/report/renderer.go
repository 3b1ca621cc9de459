package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Renderer serializes a compliance report into one output format.
type Renderer interface {
	// Format returns the format key this renderer serves.
	Format() string
	// Render serializes the report.
	Render(report *scan.ComplianceReport) ([]byte, error)
}

// Registry dispatches rendering by format key.
type Registry struct {
	renderers map[string]Renderer
}

// NewRegistry creates a registry with the built-in renderers (json, csv, text).
func NewRegistry() *Registry {
	r := &Registry{renderers: make(map[string]Renderer)}
	r.Register(JSONRenderer{})
	r.Register(CSVRenderer{})
	r.Register(TextRenderer{})
	return r
}

// Register adds or replaces a renderer for its format key.
func (r *Registry) Register(renderer Renderer) {
	r.renderers[renderer.Format()] = renderer
}

// Formats returns the registered format keys, sorted.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.renderers))
	for f := range r.renderers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Render serializes the report in the requested format. An unknown format
// yields an UnsupportedFormat error.
func (r *Registry) Render(report *scan.ComplianceReport, format string) ([]byte, error) {
	renderer, ok := r.renderers[strings.ToLower(format)]
	if !ok {
		return nil, errs.NewUnsupportedFormatError(format)
	}
	data, err := renderer.Render(report)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrorTypeReportGeneration, "failed to render report as %s", format)
	}
	return data, nil
}

// JSONRenderer is the lossless format: rendering and re-parsing yields a
// structurally equal report.
type JSONRenderer struct{}

func (JSONRenderer) Format() string { return "json" }

func (JSONRenderer) Render(report *scan.ComplianceReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// Parse is the inverse of Render for round-trip consumers.
func (JSONRenderer) Parse(data []byte) (*scan.ComplianceReport, error) {
	var report scan.ComplianceReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CSVRenderer flattens findings and QI groups into two CSV sections.
type CSVRenderer struct{}

func (CSVRenderer) Format() string { return "csv" }

func (CSVRenderer) Render(report *scan.ComplianceReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"section", "schema", "table", "column", "pii_type", "confidence", "qi_group", "risk", "error"}); err != nil {
		return nil, err
	}
	for _, f := range report.Findings {
		record := []string{
			"finding",
			f.Column.Schema, f.Column.Table, f.Column.Column,
			f.PiiType,
			strconv.FormatFloat(f.Confidence, 'f', 4, 64),
			"", "",
			f.SamplingError,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	for _, g := range report.QiGroups {
		for _, ref := range g.Columns {
			record := []string{
				"qi",
				ref.Schema, ref.Table, ref.Column,
				"", "",
				g.GroupID,
				strconv.FormatFloat(g.ReIdentificationRisk, 'f', 4, 64),
				"",
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// TextRenderer produces the operator-facing plain-text summary.
type TextRenderer struct{}

func (TextRenderer) Format() string { return "text" }

func (TextRenderer) Render(report *scan.ComplianceReport) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PII Scan Report %s\n", report.ScanID)
	fmt.Fprintf(&sb, "Target: %s.%s (%s %s)\n", report.Catalog, report.Schema, report.DBProductName, report.DBProductVersion)
	fmt.Fprintf(&sb, "Window: %s .. %s\n", report.StartedAt.Format("2006-01-02 15:04:05"), report.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Scanned: %d tables, %d columns\n", report.TableCount, report.ColumnCount)
	fmt.Fprintf(&sb, "Flagged: %d PII columns, %d quasi-identifier columns\n\n", report.PiiColumnCount, report.QiColumnCount)

	if len(report.Findings) > 0 {
		sb.WriteString("PII findings (by confidence):\n")
		for _, f := range report.Findings {
			if f.SamplingError != "" {
				fmt.Fprintf(&sb, "  %-50s sampling failed: %s\n", f.Column.FullyQualifiedName(), f.SamplingError)
				continue
			}
			fmt.Fprintf(&sb, "  %-50s %-14s %.2f\n", f.Column.FullyQualifiedName(), f.PiiType, f.Confidence)
		}
		sb.WriteString("\n")
	}
	if len(report.QiGroups) > 0 {
		sb.WriteString("Quasi-identifier groups (by risk):\n")
		for _, g := range report.QiGroups {
			names := make([]string, len(g.Columns))
			for i, ref := range g.Columns {
				names[i] = ref.FullyQualifiedName()
			}
			fmt.Fprintf(&sb, "  %s risk=%.2f k≈%.1f combos=%d singletons=%d members=%s\n",
				g.GroupID, g.ReIdentificationRisk, g.KAnonymityEstimate,
				g.DistinctCombinations, g.SingletonCombinations, strings.Join(names, ", "))
		}
	}
	return []byte(sb.String()), nil
}
