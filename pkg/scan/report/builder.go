// Package report assembles compliance reports from scan results and renders
// them through a format-keyed renderer registry.
package report

import (
	"sort"
	"time"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Builder assembles the final ComplianceReport. It is pure: the same inputs
// produce the same output apart from the timestamps supplied by the caller.
type Builder struct{}

// NewBuilder creates a report builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles the report. PII findings are sorted by descending
// confidence, ties broken by (piiType, fully-qualified name) ascending;
// QI groups arrive pre-sorted by descending risk from the analyzer.
func (b *Builder) Build(
	scanID string,
	snapshot *scan.SchemaSnapshot,
	results map[scan.ColumnRef]*scan.DetectionResult,
	groups []scan.QuasiIdentifierGroup,
	request scan.ScanRequest,
	startedAt, finishedAt time.Time,
) *scan.ComplianceReport {
	report := &scan.ComplianceReport{
		ScanID:           scanID,
		DBProductName:    snapshot.ProductName,
		DBProductVersion: snapshot.ProductVersion,
		Catalog:          snapshot.Catalog,
		Schema:           snapshot.Schema,
		TableCount:       len(snapshot.Tables),
		ColumnCount:      len(snapshot.Columns),
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		SamplingConfig:   request.Sampling,
		DetectionConfig:  request.Detection,
		QiConfig:         request.Qi,
		Findings:         []scan.PiiFinding{},
		QiGroups:         groups,
	}
	if report.QiGroups == nil {
		report.QiGroups = []scan.QuasiIdentifierGroup{}
	}

	qiColumns := make(map[scan.ColumnRef]bool)
	for _, group := range groups {
		for _, ref := range group.Columns {
			qiColumns[ref] = true
		}
	}
	report.QiColumnCount = len(qiColumns)

	for _, result := range results {
		if result.IsPii {
			report.PiiColumnCount++
			report.Findings = append(report.Findings, scan.PiiFinding{
				Column:     result.Ref,
				PiiType:    result.HighestConfidenceType,
				Confidence: result.HighestConfidenceScore,
				Candidates: result.ReportedCandidates,
			})
		} else if result.SamplingError != "" {
			// Columns that failed sampling surface in the report with an
			// empty candidate list and the error annotation.
			report.Findings = append(report.Findings, scan.PiiFinding{
				Column:        result.Ref,
				Candidates:    []scan.PiiCandidate{},
				SamplingError: result.SamplingError,
			})
		}
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		fi, fj := report.Findings[i], report.Findings[j]
		if fi.Confidence != fj.Confidence {
			return fi.Confidence > fj.Confidence
		}
		if fi.PiiType != fj.PiiType {
			return fi.PiiType < fj.PiiType
		}
		return fi.Column.FullyQualifiedName() < fj.Column.FullyQualifiedName()
	})

	return report
}
