// Package sampler draws bounded samples from table columns using FIRST_N,
// RANDOM, or STRATIFIED selection and computes per-column value statistics.
package sampler

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Sampler draws samples from a single column.
type Sampler struct {
	log *logrus.Logger
}

// NewSampler creates a column sampler.
func NewSampler(log *logrus.Logger) *Sampler {
	return &Sampler{log: log}
}

// SampleColumn draws up to cfg.SampleSize values from the column and returns
// them with null positions preserved. TotalRows reports the number of values
// actually sampled.
func (s *Sampler) SampleColumn(ctx context.Context, conn scan.ScopedConnection, col scan.ColumnDescriptor, cfg scan.SamplingConfig) (*scan.SampleData, error) {
	var (
		values []sql.NullString
		err    error
	)
	switch cfg.Method {
	case scan.SamplingFirstN:
		values, err = s.sampleFirstN(ctx, conn, col, cfg.SampleSize)
	case scan.SamplingRandom:
		values, err = s.sampleRandom(ctx, conn, col, cfg.SampleSize)
	case scan.SamplingStratified:
		values, err = s.sampleStratified(ctx, conn, col, cfg.SampleSize)
	default:
		err = errs.Newf(errs.ErrorTypeInvalidRequest, "unknown sampling method %q", cfg.Method)
	}
	if err != nil {
		return nil, err
	}

	data := &scan.SampleData{
		Ref:       col.Ref,
		Values:    values,
		TotalRows: int64(len(values)),
	}
	for _, v := range values {
		if !v.Valid {
			data.NullCount++
		}
	}
	if cfg.EntropyEnabled {
		entropy := ShannonEntropy(data.Distribution(), data.NonNullCount())
		data.Entropy = &entropy
	}
	return data, nil
}

func (s *Sampler) sampleFirstN(ctx context.Context, conn scan.ScopedConnection, col scan.ColumnDescriptor, n int) ([]sql.NullString, error) {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", columnExpr(conn.Dialect(), col), tableExpr(col.Ref), n)
	return collectRows(ctx, conn.DB(), query, n)
}

func (s *Sampler) sampleRandom(ctx context.Context, conn scan.ScopedConnection, col scan.ColumnDescriptor, n int) ([]sql.NullString, error) {
	if conn.Dialect() == "postgres" {
		// Push the shuffle down to the database.
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY random() LIMIT %d", columnExpr(conn.Dialect(), col), tableExpr(col.Ref), n)
		return collectRows(ctx, conn.DB(), query, n)
	}

	// Reservoir sampling over a streamed full scan for dialects without a
	// random ordering pushdown.
	query := fmt.Sprintf("SELECT %s FROM %s", columnExpr(conn.Dialect(), col), tableExpr(col.Ref))
	rows, err := conn.DB().QueryxContext(ctx, query)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to stream %s", col.Ref)
	}
	defer rows.Close()

	reservoir := make([]sql.NullString, 0, n)
	seen := 0
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to scan value from %s", col.Ref)
		}
		seen++
		if len(reservoir) < n {
			reservoir = append(reservoir, v)
		} else if j := rand.IntN(seen); j < n {
			reservoir[j] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to iterate %s", col.Ref)
	}
	return reservoir, nil
}

// stratumBucket accumulates one value stratum during a streamed scan. Each
// bucket keeps its own bounded reservoir so memory stays proportional to the
// sample size, not the table.
type stratumBucket struct {
	key       string
	null      bool
	count     int
	reservoir []sql.NullString
}

func (s *Sampler) sampleStratified(ctx context.Context, conn scan.ScopedConnection, col scan.ColumnDescriptor, n int) ([]sql.NullString, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", columnExpr(conn.Dialect(), col), tableExpr(col.Ref))
	rows, err := conn.DB().QueryxContext(ctx, query)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to stream %s", col.Ref)
	}
	defer rows.Close()

	const nullKey = "\x00null"
	buckets := make(map[string]*stratumBucket)
	total := 0
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to scan value from %s", col.Ref)
		}
		key := nullKey
		if v.Valid {
			key = v.String
		}
		b, ok := buckets[key]
		if !ok {
			b = &stratumBucket{key: key, null: !v.Valid}
			buckets[key] = b
		}
		b.count++
		if len(b.reservoir) < n {
			b.reservoir = append(b.reservoir, v)
		} else if j := rand.IntN(b.count); j < n {
			b.reservoir[j] = v
		}
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrapf(err, errs.ErrorTypeDataSampling, "failed to iterate %s", col.Ref)
	}
	if total == 0 {
		return nil, nil
	}

	return drawProportional(buckets, total, n), nil
}

// drawProportional allocates the sample size across buckets proportionally to
// bucket population, guaranteeing at least one draw per non-empty bucket, up
// to n total.
func drawProportional(buckets map[string]*stratumBucket, total, n int) []sql.NullString {
	ordered := make([]*stratumBucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	// Largest strata first; ties by key for a stable draw order.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].key < ordered[j].key
	})

	var out []sql.NullString
	remaining := n
	for i, b := range ordered {
		if remaining == 0 {
			break
		}
		share := b.count * n / total
		if share < 1 {
			share = 1
		}
		if share > remaining {
			share = remaining
		}
		// Leave room for one draw from each remaining bucket.
		if rest := len(ordered) - i - 1; share > remaining-rest && remaining-rest >= 1 {
			share = remaining - rest
		}
		if share > len(b.reservoir) {
			share = len(b.reservoir)
		}
		out = append(out, b.reservoir[:share]...)
		remaining -= share
	}
	return out
}

func collectRows(ctx context.Context, db *sqlx.DB, query string, capacity int) ([]sql.NullString, error) {
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeDataSampling, "failed to query samples")
	}
	defer rows.Close()

	values := make([]sql.NullString, 0, capacity)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, errs.Wrap(err, errs.ErrorTypeDataSampling, "failed to scan sample value")
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeDataSampling, "failed to iterate samples")
	}
	return values, nil
}

// columnExpr returns the quoted column reference, cast to text on postgres so
// every driver type scans uniformly into a string.
func columnExpr(dialect string, col scan.ColumnDescriptor) string {
	quoted := pgx.Identifier{col.Ref.Column}.Sanitize()
	if dialect == "postgres" {
		return quoted + "::text"
	}
	return quoted
}

// tableExpr returns the quoted schema-qualified table reference.
func tableExpr(ref scan.ColumnRef) string {
	if ref.Schema == "" {
		return pgx.Identifier{ref.Table}.Sanitize()
	}
	return pgx.Identifier{ref.Schema}.Sanitize() + "." + pgx.Identifier{ref.Table}.Sanitize()
}
