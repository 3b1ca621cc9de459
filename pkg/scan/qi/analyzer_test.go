package qi

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/testutil"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return log
}

// genderZipFixture builds 100 row-aligned samples where gender strongly
// predicts the zip bucket while every (gender, zip) combination occurs at
// least twice.
func genderZipFixture() (snapshot *scan.SchemaSnapshot, samples map[scan.ColumnRef]*scan.SampleData, results map[scan.ColumnRef]*scan.DetectionResult) {
	gender := testutil.Column("public", "patients", "gender")
	zip := testutil.Column("public", "patients", "zip")

	var genders, zips []string
	emit := func(g, z string, count int) {
		for i := 0; i < count; i++ {
			genders = append(genders, g)
			zips = append(zips, z)
		}
	}
	emit("M", "10001", 21)
	emit("M", "10002", 21)
	emit("M", "10003", 2)
	emit("M", "10004", 2)
	emit("M", "10005", 2)
	emit("F", "10001", 2)
	emit("F", "10002", 2)
	emit("F", "10003", 16)
	emit("F", "10004", 16)
	emit("F", "10005", 16)

	snapshot = &scan.SchemaSnapshot{
		Schema:  "public",
		Tables:  []scan.TableDescriptor{{Name: "patients", Type: scan.TableTypeTable, Columns: []int{0, 1}}},
		Columns: []scan.ColumnDescriptor{gender, zip},
	}
	samples = map[scan.ColumnRef]*scan.SampleData{
		gender.Ref: testutil.StringSamples(gender.Ref, genders...),
		zip.Ref:    testutil.StringSamples(zip.Ref, zips...),
	}
	results = map[scan.ColumnRef]*scan.DetectionResult{
		gender.Ref: {Ref: gender.Ref},
		zip.Ref:    {Ref: zip.Ref},
	}
	return snapshot, samples, results
}

var _ = Describe("QuasiIdentifierAnalyzer", func() {
	var (
		analyzer *Analyzer
		cfg      scan.QiConfig
	)

	BeforeEach(func() {
		analyzer = NewAnalyzer(quietLogger())
		cfg = scan.DefaultQiConfig()
		cfg.MinDistinctCount = 2
	})

	It("should form one group from correlated gender and zip columns", func() {
		snapshot, samples, results := genderZipFixture()

		groups := analyzer.Analyze(snapshot, samples, results, cfg)

		Expect(groups).To(HaveLen(1))
		group := groups[0]
		Expect(group.Columns).To(HaveLen(2))
		Expect(group.ClusteringMethod).To(Equal(ClusteringMethodCorrelationGraph))
		Expect(group.DistinctCombinations).To(Equal(10))
		Expect(group.SingletonCombinations).To(BeZero())
		Expect(group.ReIdentificationRisk).To(BeZero())
		Expect(group.KAnonymityEstimate).To(BeNumerically(">=", 10))
	})

	It("should annotate member detection results", func() {
		snapshot, samples, results := genderZipFixture()

		analyzer.Analyze(snapshot, samples, results, cfg)

		for _, result := range results {
			Expect(result.IsQuasiIdentifier).To(BeTrue())
			Expect(result.CorrelatedColumns).To(HaveLen(1))
		}
	})

	It("should compute per-column contributions as normalized entropy", func() {
		snapshot, samples, results := genderZipFixture()

		groups := analyzer.Analyze(snapshot, samples, results, cfg)
		Expect(groups).To(HaveLen(1))

		for _, contribution := range groups[0].ColumnContributions {
			Expect(contribution).To(BeNumerically(">", 0))
			Expect(contribution).To(BeNumerically("<=", 1))
		}
	})

	It("should skip PII columns", func() {
		snapshot, samples, results := genderZipFixture()
		for _, result := range results {
			result.IsPii = true
		}

		groups := analyzer.Analyze(snapshot, samples, results, cfg)
		Expect(groups).To(BeEmpty())
	})

	It("should skip columns whose names match no hint", func() {
		snapshot, samples, results := genderZipFixture()
		cfg.Hints = []string{"favorite_color"}

		groups := analyzer.Analyze(snapshot, samples, results, cfg)
		Expect(groups).To(BeEmpty())
	})

	It("should drop near-unique columns as identifiers", func() {
		snapshot, samples, results := genderZipFixture()
		cfg.MaxDistinctRatio = 0.01

		groups := analyzer.Analyze(snapshot, samples, results, cfg)
		Expect(groups).To(BeEmpty())
	})

	It("should do nothing when disabled", func() {
		snapshot, samples, results := genderZipFixture()
		cfg.Enabled = false

		groups := analyzer.Analyze(snapshot, samples, results, cfg)
		Expect(groups).To(BeEmpty())
	})

	It("should place each column in at most one group", func() {
		snapshot, samples, results := genderZipFixture()

		// A third hinted column uncorrelated with the pair.
		age := testutil.Column("public", "patients", "age")
		var ages []string
		for i := 0; i < 100; i++ {
			ages = append(ages, []string{"20", "30", "40", "50"}[i%4])
		}
		snapshot.Columns = append(snapshot.Columns, age)
		snapshot.Tables[0].Columns = append(snapshot.Tables[0].Columns, 2)
		samples[age.Ref] = testutil.StringSamples(age.Ref, ages...)
		results[age.Ref] = &scan.DetectionResult{Ref: age.Ref}

		groups := analyzer.Analyze(snapshot, samples, results, cfg)

		seen := map[string]int{}
		for _, group := range groups {
			for _, ref := range group.Columns {
				seen[ref.FullyQualifiedName()]++
			}
		}
		for name, count := range seen {
			Expect(count).To(Equal(1), "column %s must belong to one group", name)
		}
	})

	It("should count singleton combinations into the risk score", func() {
		first := testutil.Column("public", "people", "age_band")
		second := testutil.Column("public", "people", "region")

		// Perfectly associated values where two of four combinations occur
		// exactly once.
		a := []string{"20s", "20s", "30s", "30s", "40s", "50s"}
		b := []string{"north", "north", "south", "south", "east", "west"}

		snapshot := &scan.SchemaSnapshot{
			Schema:  "public",
			Tables:  []scan.TableDescriptor{{Name: "people", Type: scan.TableTypeTable, Columns: []int{0, 1}}},
			Columns: []scan.ColumnDescriptor{first, second},
		}
		samples := map[scan.ColumnRef]*scan.SampleData{
			first.Ref:  testutil.StringSamples(first.Ref, a...),
			second.Ref: testutil.StringSamples(second.Ref, b...),
		}
		results := map[scan.ColumnRef]*scan.DetectionResult{
			first.Ref:  {Ref: first.Ref},
			second.Ref: {Ref: second.Ref},
		}

		localCfg := scan.DefaultQiConfig()
		localCfg.MinDistinctCount = 2
		localCfg.Hints = []string{"age", "region"}

		groups := analyzer.Analyze(snapshot, samples, results, localCfg)
		Expect(groups).To(HaveLen(1))

		group := groups[0]
		Expect(group.DistinctCombinations).To(Equal(4))
		Expect(group.SingletonCombinations).To(Equal(2))
		Expect(group.ReIdentificationRisk).To(BeNumerically("~", 0.5, 0.0001))
		Expect(group.KAnonymityEstimate).To(BeNumerically("~", 2.0, 0.0001))
	})
})
