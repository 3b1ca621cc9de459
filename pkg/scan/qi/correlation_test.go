package qi

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cramér's V", func() {
	It("should be 1 for perfectly associated categories", func() {
		a := []string{"M", "M", "F", "F", "M", "F"}
		b := []string{"1", "1", "2", "2", "1", "2"}
		Expect(cramersV(a, b)).To(BeNumerically("~", 1.0, 0.0001))
	})

	It("should be near 0 for independent categories", func() {
		var a, b []string
		// Balanced 2x2 table with identical cell counts.
		for i := 0; i < 40; i++ {
			a = append(a, []string{"M", "M", "F", "F"}[i%4])
			b = append(b, []string{"1", "2", "1", "2"}[i%4])
		}
		Expect(cramersV(a, b)).To(BeNumerically("<", 0.05))
	})

	It("should be 0 for degenerate inputs", func() {
		Expect(cramersV([]string{"a"}, []string{"b"})).To(BeZero())
		Expect(cramersV([]string{"a", "a"}, []string{"b", "c"})).To(BeZero())
		Expect(cramersV(nil, nil)).To(BeZero())
	})
})

var _ = Describe("Pearson correlation", func() {
	It("should be 1 for a perfect linear relation", func() {
		a := []float64{1, 2, 3, 4, 5}
		b := []float64{2, 4, 6, 8, 10}
		Expect(pearson(a, b)).To(BeNumerically("~", 1.0, 0.0001))
	})

	It("should report absolute correlation for inverse relations", func() {
		a := []float64{1, 2, 3, 4, 5}
		b := []float64{10, 8, 6, 4, 2}
		Expect(pearson(a, b)).To(BeNumerically("~", 1.0, 0.0001))
	})

	It("should be 0 for constant series", func() {
		Expect(pearson([]float64{1, 1, 1}, []float64{2, 3, 4})).To(BeZero())
	})
})

var _ = Describe("Correlation ratio", func() {
	It("should be 1 when the category fully determines the value", func() {
		categories := []string{"a", "a", "b", "b", "c", "c"}
		values := []float64{1, 1, 5, 5, 9, 9}
		Expect(correlationRatio(categories, values)).To(BeNumerically("~", 1.0, 0.0001))
	})

	It("should be low when category means coincide", func() {
		categories := []string{"a", "a", "b", "b"}
		values := []float64{1, 9, 1, 9}
		Expect(correlationRatio(categories, values)).To(BeNumerically("<", 0.01))
	})

	It("should be 0 with a single category", func() {
		Expect(correlationRatio([]string{"a", "a"}, []float64{1, 2})).To(BeZero())
	})
})

var _ = Describe("unionFind", func() {
	It("should merge transitively connected elements", func() {
		uf := newUnionFind(5)
		uf.union(0, 1)
		uf.union(1, 2)
		Expect(uf.find(0)).To(Equal(uf.find(2)))
		Expect(uf.find(3)).NotTo(Equal(uf.find(0)))
		Expect(uf.find(3)).NotTo(Equal(uf.find(4)))
	})
})
