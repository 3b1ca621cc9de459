package qi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/sampler"
)

// ClusteringMethodCorrelationGraph tags groups produced by connected-component
// clustering over the pairwise correlation graph.
const ClusteringMethodCorrelationGraph = "correlation_graph"

// Analyzer clusters correlated non-PII columns into quasi-identifier groups.
type Analyzer struct {
	log *logrus.Logger
}

// NewAnalyzer creates a quasi-identifier analyzer.
func NewAnalyzer(log *logrus.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// candidate is an eligible column with its cached sample statistics.
type candidate struct {
	col     scan.ColumnDescriptor
	sample  *scan.SampleData
	numeric bool
}

// Analyze runs eligibility filtering, pairwise correlation, clustering, and
// risk scoring. Detection results of member columns are updated in place
// (IsQuasiIdentifier, QiRiskScore, CorrelatedColumns). Returned groups are
// sorted by descending re-identification risk.
func (a *Analyzer) Analyze(snapshot *scan.SchemaSnapshot, samples map[scan.ColumnRef]*scan.SampleData, results map[scan.ColumnRef]*scan.DetectionResult, cfg scan.QiConfig) []scan.QuasiIdentifierGroup {
	if !cfg.Enabled {
		return nil
	}

	candidates := a.eligible(snapshot, samples, results, cfg)
	if len(candidates) < 2 {
		return nil
	}

	// Pairwise correlation edges over the eligible set.
	uf := newUnionFind(len(candidates))
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			coefficient := a.correlate(candidates[i], candidates[j])
			if coefficient >= cfg.MinCorrelationCoefficient {
				uf.union(i, j)
			}
		}
	}

	// Connected components of size >= 2 become groups. Union-find components
	// are disjoint, so each column lands in at most one group.
	components := make(map[int][]int)
	for i := range candidates {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}
	roots := make([]int, 0, len(components))
	for root, members := range components {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	var groups []scan.QuasiIdentifierGroup
	for _, root := range roots {
		group := a.buildGroup(components[root], candidates)
		groups = append(groups, group)
	}

	// Highest-risk groups first; stable tie-break on the first member name.
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].ReIdentificationRisk != groups[j].ReIdentificationRisk {
			return groups[i].ReIdentificationRisk > groups[j].ReIdentificationRisk
		}
		return groups[i].Columns[0].FullyQualifiedName() < groups[j].Columns[0].FullyQualifiedName()
	})
	for i := range groups {
		groups[i].GroupID = fmt.Sprintf("qi-%d", i+1)
	}

	a.annotateResults(groups, results)
	return groups
}

// eligible filters columns to QI candidates: non-PII, name matching a hint,
// usable distinct cardinality, capped at MaxColumnsToAnalyze.
func (a *Analyzer) eligible(snapshot *scan.SchemaSnapshot, samples map[scan.ColumnRef]*scan.SampleData, results map[scan.ColumnRef]*scan.DetectionResult, cfg scan.QiConfig) []candidate {
	var out []candidate
	for i := range snapshot.Columns {
		col := snapshot.Columns[i]
		result := results[col.Ref]
		if result == nil || result.IsPii {
			continue
		}
		if !matchesHint(col.Ref.Column, cfg.Hints) {
			continue
		}
		sample := samples[col.Ref]
		if sample == nil || sample.Failed() || sample.NonNullCount() == 0 {
			continue
		}
		distinct := sample.DistinctCount()
		if distinct < cfg.MinDistinctCount {
			continue
		}
		if float64(distinct)/float64(sample.NonNullCount()) > cfg.MaxDistinctRatio {
			// Near-unique columns are identifiers, not quasi-identifiers.
			continue
		}
		out = append(out, candidate{
			col:     col,
			sample:  sample,
			numeric: col.Category == scan.TypeNumeric,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].col.Ref.FullyQualifiedName() < out[j].col.Ref.FullyQualifiedName()
	})
	if len(out) > cfg.MaxColumnsToAnalyze {
		a.log.WithFields(logrus.Fields{
			"eligible": len(out),
			"analyzed": cfg.MaxColumnsToAnalyze,
		}).Info("Capping quasi-identifier candidate set")
		out = out[:cfg.MaxColumnsToAnalyze]
	}
	return out
}

// correlate computes the appropriate coefficient for the column pair:
// Cramér's V for categorical-categorical, Pearson for numeric-numeric,
// correlation ratio for mixed pairs.
func (a *Analyzer) correlate(x, y candidate) float64 {
	pairs := alignPairs(x.sample, y.sample)
	if len(pairs.a) < 2 {
		return 0
	}

	switch {
	case x.numeric && y.numeric:
		xs, okX := parseNumeric(pairs.a)
		ys, okY := parseNumeric(pairs.b)
		var fa, fb []float64
		for i := range xs {
			if okX[i] && okY[i] {
				fa = append(fa, xs[i])
				fb = append(fb, ys[i])
			}
		}
		return pearson(fa, fb)
	case x.numeric != y.numeric:
		categories, numbers := pairs.a, pairs.b
		if x.numeric {
			categories, numbers = pairs.b, pairs.a
		}
		parsed, ok := parseNumeric(numbers)
		var cs []string
		var vs []float64
		for i := range parsed {
			if ok[i] {
				cs = append(cs, categories[i])
				vs = append(vs, parsed[i])
			}
		}
		return correlationRatio(cs, vs)
	default:
		return cramersV(pairs.a, pairs.b)
	}
}

// buildGroup computes the risk metrics for one component by union-hashing
// the row-aligned tuples across member columns.
func (a *Analyzer) buildGroup(memberIdx []int, candidates []candidate) scan.QuasiIdentifierGroup {
	members := make([]candidate, len(memberIdx))
	for i, idx := range memberIdx {
		members[i] = candidates[idx]
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].col.Ref.FullyQualifiedName() < members[j].col.Ref.FullyQualifiedName()
	})

	// Tuples are aligned by sample index across member columns, truncated to
	// the shortest member sample.
	rows := members[0].sample.Values
	minLen := len(rows)
	for _, m := range members[1:] {
		if len(m.sample.Values) < minLen {
			minLen = len(m.sample.Values)
		}
	}

	tupleCounts := make(map[string]int, minLen)
	for row := 0; row < minLen; row++ {
		var sb strings.Builder
		for mi, m := range members {
			if mi > 0 {
				sb.WriteByte(0x1f)
			}
			v := m.sample.Values[row]
			if v.Valid {
				sb.WriteString(v.String)
			} else {
				sb.WriteByte(0x00)
			}
		}
		tupleCounts[sb.String()]++
	}

	distinct := len(tupleCounts)
	singletons := 0
	for _, count := range tupleCounts {
		if count == 1 {
			singletons++
		}
	}

	group := scan.QuasiIdentifierGroup{
		ClusteringMethod:      ClusteringMethodCorrelationGraph,
		DistinctCombinations:  distinct,
		SingletonCombinations: singletons,
		ColumnContributions:   make(map[string]float64, len(members)),
	}
	for _, m := range members {
		group.Columns = append(group.Columns, m.col.Ref)
		group.ColumnContributions[m.col.Ref.FullyQualifiedName()] =
			sampler.NormalizedEntropy(m.sample.Distribution(), m.sample.NonNullCount())
	}

	divisor := singletons
	if divisor < 1 {
		divisor = 1
	}
	group.KAnonymityEstimate = float64(distinct) / float64(divisor)
	if distinct > 0 {
		risk := float64(singletons) / float64(distinct)
		if risk > 1 {
			risk = 1
		}
		group.ReIdentificationRisk = risk
	}
	return group
}

// annotateResults writes the QI flags back onto the member columns'
// detection results.
func (a *Analyzer) annotateResults(groups []scan.QuasiIdentifierGroup, results map[scan.ColumnRef]*scan.DetectionResult) {
	for _, group := range groups {
		for _, ref := range group.Columns {
			result := results[ref]
			if result == nil {
				continue
			}
			result.IsQuasiIdentifier = true
			result.QiRiskScore = group.ReIdentificationRisk
			for _, other := range group.Columns {
				if other != ref {
					result.CorrelatedColumns = append(result.CorrelatedColumns, other.FullyQualifiedName())
				}
			}
		}
	}
}

// alignPairs collects row-aligned value pairs where both columns are non-null.
func alignPairs(x, y *scan.SampleData) pairedValues {
	n := len(x.Values)
	if len(y.Values) < n {
		n = len(y.Values)
	}
	var pairs pairedValues
	for i := 0; i < n; i++ {
		vx, vy := x.Values[i], y.Values[i]
		if vx.Valid && vy.Valid {
			pairs.a = append(pairs.a, vx.String)
			pairs.b = append(pairs.b, vy.String)
		}
	}
	return pairs
}

func matchesHint(column string, hints []string) bool {
	name := strings.ToLower(column)
	for _, hint := range hints {
		if strings.Contains(name, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}
