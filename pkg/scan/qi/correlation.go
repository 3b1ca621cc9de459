// Package qi clusters correlated non-PII columns into quasi-identifier
// groups and estimates their re-identification risk.
package qi

import (
	"math"
	"strconv"
)

// pairedValues holds the row-aligned non-null value pairs of two columns.
type pairedValues struct {
	a, b []string
}

// cramersV computes Cramér's V for two categorical series of equal length.
// Returns 0 for degenerate tables (a single row or a single category on
// either side).
func cramersV(a, b []string) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}

	levelsA := index(a)
	levelsB := index(b)
	r, c := len(levelsA), len(levelsB)
	if r < 2 || c < 2 {
		return 0
	}

	observed := make([][]float64, r)
	for i := range observed {
		observed[i] = make([]float64, c)
	}
	rowTotals := make([]float64, r)
	colTotals := make([]float64, c)
	for i := range a {
		ai, bi := levelsA[a[i]], levelsB[b[i]]
		observed[ai][bi]++
		rowTotals[ai]++
		colTotals[bi]++
	}

	chi2 := 0.0
	total := float64(n)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			expected := rowTotals[i] * colTotals[j] / total
			if expected == 0 {
				continue
			}
			diff := observed[i][j] - expected
			chi2 += diff * diff / expected
		}
	}

	k := math.Min(float64(r-1), float64(c-1))
	if k == 0 {
		return 0
	}
	v := math.Sqrt(chi2 / (total * k))
	if v > 1 {
		v = 1
	}
	return v
}

// pearson computes the absolute Pearson correlation coefficient of two
// numeric series of equal length. Values that fail to parse are expected to
// have been filtered by the caller.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n < 2 || len(a) != len(b) {
		return 0
	}
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	r := cov / math.Sqrt(varA*varB)
	return math.Abs(r)
}

// correlationRatio computes eta for a categorical series against a numeric
// series of equal length: the share of numeric variance explained by the
// category means.
func correlationRatio(categories []string, values []float64) float64 {
	n := float64(len(values))
	if n < 2 || len(categories) != len(values) {
		return 0
	}

	var total float64
	for _, v := range values {
		total += v
	}
	grandMean := total / n

	groupSums := make(map[string]float64)
	groupCounts := make(map[string]float64)
	for i, c := range categories {
		groupSums[c] += values[i]
		groupCounts[c]++
	}
	if len(groupCounts) < 2 {
		return 0
	}

	var between, within float64
	for c, count := range groupCounts {
		mean := groupSums[c] / count
		d := mean - grandMean
		between += count * d * d
	}
	for _, v := range values {
		d := v - grandMean
		within += d * d
	}
	if within == 0 {
		return 0
	}
	eta := math.Sqrt(between / within)
	if eta > 1 {
		eta = 1
	}
	return eta
}

// parseNumeric converts a string series to floats, reporting per-index
// success so callers can keep the two series aligned.
func parseNumeric(values []string) ([]float64, []bool) {
	out := make([]float64, len(values))
	ok := make([]bool, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			out[i] = f
			ok[i] = true
		}
	}
	return out, ok
}

func index(values []string) map[string]int {
	idx := make(map[string]int)
	for _, v := range values {
		if _, ok := idx[v]; !ok {
			idx[v] = len(idx)
		}
	}
	return idx
}

// unionFind is a disjoint-set forest used for connected-component clustering
// over the correlation graph.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
