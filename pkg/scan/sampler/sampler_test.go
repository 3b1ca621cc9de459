package sampler

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
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

func newMockConn(dialect string) (*testutil.MockScopedConnection, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	Expect(err).NotTo(HaveOccurred())
	return testutil.NewMockConnection(sqlx.NewDb(db, "sqlmock"), dialect), mock
}

func valueRows(values ...interface{}) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"value"})
	for _, v := range values {
		rows.AddRow(v)
	}
	return rows
}

var _ = Describe("Sampler", func() {
	var (
		s   *Sampler
		ctx context.Context
		col scan.ColumnDescriptor
	)

	BeforeEach(func() {
		s = NewSampler(quietLogger())
		ctx = context.Background()
		col = testutil.Column("public", "users", "email")
	})

	Describe("FIRST_N sampling", func() {
		It("should take the first rows in driver order, preserving nulls", func() {
			conn, mock := newMockConn("postgres")
			mock.ExpectQuery(`SELECT .* FROM .* LIMIT 4`).
				WillReturnRows(valueRows("a@x.io", nil, "b@y.io", "c@z.io"))

			cfg := scan.SamplingConfig{SampleSize: 4, Method: scan.SamplingFirstN, MaxConcurrentDBQueries: 1, EntropyEnabled: false}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(data.Values).To(HaveLen(4))
			Expect(data.Values[1].Valid).To(BeFalse())
			Expect(data.NullCount).To(Equal(1))
			Expect(data.NonNullCount()).To(Equal(3))
			Expect(data.TotalRows).To(Equal(int64(4)))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("RANDOM sampling", func() {
		It("should push the shuffle down on postgres", func() {
			conn, mock := newMockConn("postgres")
			mock.ExpectQuery(`SELECT .* FROM .* ORDER BY random\(\) LIMIT 2`).
				WillReturnRows(valueRows("a@x.io", "b@y.io"))

			cfg := scan.SamplingConfig{SampleSize: 2, Method: scan.SamplingRandom, MaxConcurrentDBQueries: 1}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(data.Values).To(HaveLen(2))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("should reservoir-sample a streamed scan on other dialects", func() {
			conn, mock := newMockConn("generic")
			rows := valueRows()
			for i := 0; i < 50; i++ {
				rows.AddRow(fmt.Sprintf("v%02d", i))
			}
			mock.ExpectQuery(`SELECT .* FROM`).WillReturnRows(rows)

			cfg := scan.SamplingConfig{SampleSize: 10, Method: scan.SamplingRandom, MaxConcurrentDBQueries: 1}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(data.Values).To(HaveLen(10))
			seen := map[string]bool{}
			for _, v := range data.Values {
				Expect(v.Valid).To(BeTrue())
				Expect(seen[v.String]).To(BeFalse(), "reservoir must not duplicate rows")
				seen[v.String] = true
			}
		})
	})

	Describe("STRATIFIED sampling", func() {
		It("should draw at least one value from every non-empty bucket", func() {
			conn, mock := newMockConn("postgres")
			rows := valueRows()
			// 90 rows of M, 9 of F, 1 of X.
			for i := 0; i < 90; i++ {
				rows.AddRow("M")
			}
			for i := 0; i < 9; i++ {
				rows.AddRow("F")
			}
			rows.AddRow("X")
			mock.ExpectQuery(`SELECT .* FROM`).WillReturnRows(rows)

			cfg := scan.SamplingConfig{SampleSize: 10, Method: scan.SamplingStratified, MaxConcurrentDBQueries: 1}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(len(data.Values)).To(BeNumerically("<=", 10))
			dist := data.Distribution()
			Expect(dist["M"]).To(BeNumerically(">=", 1))
			Expect(dist["F"]).To(BeNumerically(">=", 1))
			Expect(dist["X"]).To(BeNumerically(">=", 1))
			Expect(dist["M"]).To(BeNumerically(">", dist["F"]))
		})

		It("should return empty data for an empty table", func() {
			conn, mock := newMockConn("postgres")
			mock.ExpectQuery(`SELECT .* FROM`).WillReturnRows(valueRows())

			cfg := scan.SamplingConfig{SampleSize: 10, Method: scan.SamplingStratified, MaxConcurrentDBQueries: 1}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(data.Values).To(BeEmpty())
			Expect(data.TotalRows).To(BeZero())
		})
	})

	Describe("entropy computation", func() {
		It("should compute Shannon entropy over non-null values", func() {
			conn, mock := newMockConn("postgres")
			mock.ExpectQuery(`SELECT .* FROM .* LIMIT 4`).
				WillReturnRows(valueRows("a", "a", "b", "b"))

			cfg := scan.SamplingConfig{SampleSize: 4, Method: scan.SamplingFirstN, MaxConcurrentDBQueries: 1, EntropyEnabled: true}
			data, err := s.SampleColumn(ctx, conn, col, cfg)

			Expect(err).NotTo(HaveOccurred())
			Expect(data.Entropy).NotTo(BeNil())
			Expect(*data.Entropy).To(BeNumerically("~", 1.0, 0.0001))
		})
	})
})

var _ = Describe("ShannonEntropy", func() {
	It("should be zero for a single distinct value", func() {
		Expect(ShannonEntropy(map[string]int{"a": 10}, 10)).To(BeZero())
	})

	It("should be zero for empty distributions", func() {
		Expect(ShannonEntropy(map[string]int{}, 0)).To(BeZero())
	})

	It("should reach log2(n) for a uniform distribution", func() {
		dist := map[string]int{"a": 5, "b": 5, "c": 5, "d": 5}
		Expect(ShannonEntropy(dist, 20)).To(BeNumerically("~", 2.0, 0.0001))
	})

	It("should stay within [0, log2(distinct)] for skewed distributions", func() {
		dist := map[string]int{"a": 97, "b": 2, "c": 1}
		h := ShannonEntropy(dist, 100)
		Expect(h).To(BeNumerically(">=", 0))
		Expect(h).To(BeNumerically("<=", math.Log2(3)))
	})
})

var _ = Describe("NormalizedEntropy", func() {
	It("should scale into [0,1]", func() {
		dist := map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}
		Expect(NormalizedEntropy(dist, 4)).To(BeNumerically("~", 1.0, 0.0001))

		skewed := map[string]int{"a": 99, "b": 1}
		n := NormalizedEntropy(skewed, 100)
		Expect(n).To(BeNumerically(">", 0))
		Expect(n).To(BeNumerically("<", 1))
	})
})

var _ = Describe("SampleData invariants", func() {
	It("should satisfy 0 <= nullCount <= len(values)", func() {
		v := "x"
		data := testutil.Samples(scan.ColumnRef{Schema: "s", Table: "t", Column: "c"}, &v, nil, nil)
		Expect(data.NullCount).To(Equal(2))
		Expect(data.NullCount).To(BeNumerically("<=", len(data.Values)))
	})
})

var _ = Describe("drawProportional", func() {
	bucket := func(key string, count int, values ...string) *stratumBucket {
		b := &stratumBucket{key: key, count: count}
		for _, v := range values {
			b.reservoir = append(b.reservoir, sql.NullString{String: v, Valid: true})
		}
		return b
	}

	It("should never exceed the requested total", func() {
		buckets := map[string]*stratumBucket{
			"a": bucket("a", 80, "a1", "a2", "a3", "a4", "a5"),
			"b": bucket("b", 15, "b1", "b2", "b3"),
			"c": bucket("c", 5, "c1", "c2"),
		}
		out := drawProportional(buckets, 100, 5)
		Expect(len(out)).To(BeNumerically("<=", 5))
	})

	It("should favor larger buckets", func() {
		buckets := map[string]*stratumBucket{
			"big":   bucket("big", 90, "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8"),
			"small": bucket("small", 10, "y1", "y2"),
		}
		out := drawProportional(buckets, 100, 8)
		big, small := 0, 0
		for _, v := range out {
			if v.String[0] == 'x' {
				big++
			} else {
				small++
			}
		}
		Expect(big).To(BeNumerically(">", small))
		Expect(small).To(BeNumerically(">=", 1))
	})
})
