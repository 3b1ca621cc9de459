package report

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

func ref(table, column string) scan.ColumnRef {
	return scan.ColumnRef{Schema: "public", Table: table, Column: column}
}

func fixtureInputs() (*scan.SchemaSnapshot, map[scan.ColumnRef]*scan.DetectionResult, []scan.QuasiIdentifierGroup, scan.ScanRequest) {
	snapshot := &scan.SchemaSnapshot{
		Catalog:        "appdb",
		Schema:         "public",
		ProductName:    "PostgreSQL",
		ProductVersion: "16.2",
		Tables: []scan.TableDescriptor{
			{Name: "users", Type: scan.TableTypeTable, Columns: []int{0, 1, 2}},
		},
		Columns: []scan.ColumnDescriptor{
			{Ref: ref("users", "email"), Category: scan.TypeString},
			{Ref: ref("users", "phone"), Category: scan.TypeString},
			{Ref: ref("users", "zip"), Category: scan.TypeString},
		},
	}

	results := map[scan.ColumnRef]*scan.DetectionResult{
		ref("users", "email"): {
			Ref:                    ref("users", "email"),
			IsPii:                  true,
			HighestConfidenceType:  "EMAIL",
			HighestConfidenceScore: 1.0,
			ReportedCandidates: []scan.PiiCandidate{
				{PiiType: "EMAIL", Confidence: 1.0, StrategyID: "REGEX"},
			},
		},
		ref("users", "phone"): {
			Ref:                    ref("users", "phone"),
			IsPii:                  true,
			HighestConfidenceType:  "PHONE",
			HighestConfidenceScore: 0.9,
		},
		ref("users", "zip"): {Ref: ref("users", "zip")},
	}

	groups := []scan.QuasiIdentifierGroup{
		{
			GroupID:               "qi-1",
			Columns:               []scan.ColumnRef{ref("users", "zip")},
			ClusteringMethod:      "correlation_graph",
			DistinctCombinations:  5,
			SingletonCombinations: 1,
			KAnonymityEstimate:    5,
			ReIdentificationRisk:  0.2,
		},
	}

	request := scan.ScanRequest{ConnectionID: "appdb"}
	Expect(request.Normalize()).To(Succeed())
	return snapshot, results, groups, request
}

var _ = Describe("Builder", func() {
	var (
		builder  *Builder
		started  time.Time
		finished time.Time
	)

	BeforeEach(func() {
		builder = NewBuilder()
		started = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		finished = started.Add(90 * time.Second)
	})

	It("should aggregate counts and carry the effective config snapshots", func() {
		snapshot, results, groups, request := fixtureInputs()

		report := builder.Build("scan-1", snapshot, results, groups, request, started, finished)

		Expect(report.TableCount).To(Equal(1))
		Expect(report.ColumnCount).To(Equal(3))
		Expect(report.PiiColumnCount).To(Equal(2))
		Expect(report.QiColumnCount).To(Equal(1))
		Expect(report.SamplingConfig.SampleSize).To(Equal(100))
		Expect(report.DetectionConfig.ReportingThreshold).To(BeNumerically("~", 0.85))
		Expect(report.QiConfig.Enabled).To(BeTrue())
	})

	It("should sort findings by descending confidence", func() {
		snapshot, results, groups, request := fixtureInputs()

		report := builder.Build("scan-1", snapshot, results, groups, request, started, finished)

		Expect(report.Findings).To(HaveLen(2))
		for i := 1; i < len(report.Findings); i++ {
			Expect(report.Findings[i-1].Confidence).To(BeNumerically(">=", report.Findings[i].Confidence))
		}
		Expect(report.Findings[0].PiiType).To(Equal("EMAIL"))
	})

	It("should break confidence ties by pii type then column name", func() {
		snapshot, results, _, request := fixtureInputs()
		results[ref("users", "phone")].HighestConfidenceScore = 1.0
		results[ref("users", "phone")].HighestConfidenceType = "EMAIL"
		// Same score, same type: users.email sorts before users.phone.

		report := builder.Build("scan-1", snapshot, results, nil, request, started, finished)

		Expect(report.Findings[0].Column.Column).To(Equal("email"))
		Expect(report.Findings[1].Column.Column).To(Equal("phone"))
	})

	It("should include sampling failures as annotated findings", func() {
		snapshot, results, _, request := fixtureInputs()
		broken := ref("users", "zip")
		results[broken].SamplingError = "permission denied"

		report := builder.Build("scan-1", snapshot, results, nil, request, started, finished)

		var found bool
		for _, f := range report.Findings {
			if f.Column == broken {
				found = true
				Expect(f.Candidates).To(BeEmpty())
				Expect(f.SamplingError).To(Equal("permission denied"))
			}
		}
		Expect(found).To(BeTrue())
	})

	It("should be deterministic for fixed inputs", func() {
		snapshot, results, groups, request := fixtureInputs()

		first := builder.Build("scan-1", snapshot, results, groups, request, started, finished)
		second := builder.Build("scan-1", snapshot, results, groups, request, started, finished)

		Expect(reflect.DeepEqual(first, second)).To(BeTrue())
	})
})

var _ = Describe("Renderer registry", func() {
	var (
		registry *Registry
		rep      *scan.ComplianceReport
	)

	BeforeEach(func() {
		registry = NewRegistry()
		snapshot, results, groups, request := fixtureInputs()
		rep = NewBuilder().Build("scan-1", snapshot, results, groups, request,
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 1, 10, 1, 30, 0, time.UTC))
	})

	It("should list the built-in formats", func() {
		Expect(registry.Formats()).To(Equal([]string{"csv", "json", "text"}))
	})

	It("should reject unknown formats with UnsupportedFormat", func() {
		_, err := registry.Render(rep, "xlsx")
		Expect(err).To(HaveOccurred())
		Expect(errs.IsType(err, errs.ErrorTypeUnsupportedFormat)).To(BeTrue())
	})

	It("should round-trip structurally through JSON", func() {
		payload, err := registry.Render(rep, "json")
		Expect(err).NotTo(HaveOccurred())

		parsed, err := JSONRenderer{}.Parse(payload)
		Expect(err).NotTo(HaveOccurred())

		// Compare via canonical JSON to sidestep time zone representation.
		original, err := json.Marshal(rep)
		Expect(err).NotTo(HaveOccurred())
		reparsed, err := json.Marshal(parsed)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(reparsed)).To(Equal(string(original)))
	})

	It("should flatten findings and groups into CSV rows", func() {
		payload, err := registry.Render(rep, "csv")
		Expect(err).NotTo(HaveOccurred())

		lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
		// Header + 2 findings + 1 group member.
		Expect(lines).To(HaveLen(4))
		Expect(lines[0]).To(ContainSubstring("pii_type"))
		Expect(lines[1]).To(ContainSubstring("EMAIL"))
	})

	It("should render a readable text summary", func() {
		payload, err := registry.Render(rep, "text")
		Expect(err).NotTo(HaveOccurred())

		text := string(payload)
		Expect(text).To(ContainSubstring("PII Scan Report scan-1"))
		Expect(text).To(ContainSubstring("public.users.email"))
		Expect(text).To(ContainSubstring("qi-1"))
	})
})
