package nnsearch

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

// treeVariants is every tree searcher; allVariants additionally includes
// the brute-force oracle.
var treeVariants = []Variant{
	VariantBalancedPQ,
	VariantBalancedStack,
	VariantBalancedLeaves,
	VariantMidpoint,
	VariantMidpointOpt,
	VariantMidpointBounds,
}

var allVariants = append([]Variant{VariantBruteForce}, treeVariants...)

func uniformCloud(rng *rand.Rand, n, dims int) []float64 {
	data := make([]float64, n*dims)
	for i := range data {
		data[i] = rng.Float64()
	}
	return data
}

// sortedDistances maps result indices to their squared distances from q,
// ascending. Fails the test on an invalid or duplicated index.
func sortedDistances(t *testing.T, data []float64, dims int, q []float64, indices []int) []float64 {
	t.Helper()
	n := len(data) / dims
	seen := make(map[int]bool)
	dists := make([]float64, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			t.Fatalf("invalid result index %d", idx)
		}
		if seen[idx] {
			t.Fatalf("result contains index %d twice", idx)
		}
		seen[idx] = true
		dists = append(dists, dist2(q, data[idx*dims:(idx+1)*dims]))
	}
	sort.Float64s(dists)
	return dists
}

// exactDistances returns the sorted squared distances from q to every
// cloud column, the oracle for exactness checks.
func exactDistances(data []float64, dims int, q []float64) []float64 {
	n := len(data) / dims
	dists := make([]float64, n)
	for i := 0; i < n; i++ {
		dists[i] = dist2(q, data[i*dims:(i+1)*dims])
	}
	sort.Float64s(dists)
	return dists
}

func TestAllVariants_ExactDistancesMatchOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(101))
	configs := []struct {
		n, dims, k int
	}{
		{1, 1, 1},
		{2, 2, 2},
		{30, 2, 5},
		{200, 3, 10},
		{500, 7, 25},
	}
	for _, cfg := range configs {
		data := uniformCloud(rng, cfg.n, cfg.dims)
		for _, variant := range allVariants {
			t.Run(fmt.Sprintf("%s_n%d_d%d", variant, cfg.n, cfg.dims), func(t *testing.T) {
				s, err := New(data, cfg.dims, Config{Variant: variant, BalanceVariance: true})
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				for trial := 0; trial < 20; trial++ {
					q := make([]float64, cfg.dims)
					for d := range q {
						q[d] = rng.Float64()*1.4 - 0.2 // sometimes outside the cloud box
					}
					got, err := s.Knn(q, cfg.k, 0, AllowSelfMatch)
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					gotDists := sortedDistances(t, data, cfg.dims, q, got)
					want := exactDistances(data, cfg.dims, q)[:cfg.k]
					for i := range want {
						if gotDists[i] != want[i] {
							t.Fatalf("trial %d: distances %v, want %v", trial, gotDists, want)
						}
					}
				}
			})
		}
	}
}

func TestAllVariants_SortResultsOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(103))
	data := uniformCloud(rng, 120, 3)
	q := []float64{0.5, 0.5, 0.5}
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 3, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, 8, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			prev := -1.0
			for _, idx := range got {
				d := dist2(q, data[idx*3:idx*3+3])
				if d < prev {
					t.Fatalf("results not sorted: %v after %v", d, prev)
				}
				prev = d
			}
		})
	}
}

func TestAllVariants_SelfMatchFlag(t *testing.T) {
	rng := rand.New(rand.NewSource(107))
	data := uniformCloud(rng, 60, 2)
	self := 17
	q := append([]float64(nil), data[self*2:self*2+2]...)
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 2, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			with, err := s.Knn(q, 3, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if with[0] != self {
				t.Errorf("with AllowSelfMatch, first result = %d, want %d", with[0], self)
			}

			without, err := s.Knn(q, 3, 0, SortResults)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, idx := range without {
				if idx == self {
					t.Errorf("without AllowSelfMatch, result contains %d", self)
				}
			}
		})
	}
}

// Zero-distance policy: every coincident point is skipped when
// AllowSelfMatch is unset, not just the first.
func TestSelfMatch_CoincidentPoints(t *testing.T) {
	data := []float64{
		3, 3,
		1, 0,
		3, 3,
		3, 3,
		0, 1,
	}
	q := []float64{3, 3}
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 2, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, 2, 0, SortResults)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, idx := range got {
				if idx == 0 || idx == 2 || idx == 3 {
					t.Fatalf("zero-distance column %d returned: %v", idx, got)
				}
			}
			if got[0] != 1 && got[0] != 4 {
				t.Errorf("results = %v, want the two off-cloud columns", got)
			}
		})
	}
}

// With k = N and self-matching disallowed against a coincident query, the
// skipped columns leave unfillable slots, which hold -1.
func TestSelfMatch_KEqualsN(t *testing.T) {
	data := []float64{
		2, 2,
		5, 5,
		2, 2,
	}
	q := []float64{2, 2}
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 2, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, 3, 0, SortResults)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got[0] != 1 {
				t.Errorf("first result = %d, want 1", got[0])
			}
			if got[1] != invalidIndex || got[2] != invalidIndex {
				t.Errorf("unfillable slots = %v, want [-1 -1]", got[1:])
			}
		})
	}
}

func TestAllVariants_EpsilonBound(t *testing.T) {
	rng := rand.New(rand.NewSource(109))
	data := uniformCloud(rng, 800, 4)
	k := 6
	eps := 0.5
	bound := (1 + eps) * (1 + eps)
	for _, variant := range treeVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 4, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for trial := 0; trial < 10; trial++ {
				q := make([]float64, 4)
				for d := range q {
					q[d] = rng.Float64()
				}
				got, err := s.Knn(q, k, eps, AllowSelfMatch)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				exactKth := exactDistances(data, 4, q)[k-1]
				for _, d := range sortedDistances(t, data, 4, q, got) {
					if d > bound*exactKth {
						t.Fatalf("trial %d: distance %v exceeds %v * exact k-th %v", trial, d, bound, exactKth)
					}
				}
			}
		})
	}
}

func TestAllVariants_VisitCountMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(113))
	data := uniformCloud(rng, 300, 3)
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 3, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var runningTotal uint64
			for trial := 0; trial < 5; trial++ {
				q := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
				if _, err := s.Knn(q, 4, 0, 0); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				st := s.Stats()
				if st.LastQueryVisitCount == 0 {
					t.Fatal("query completed with zero visits")
				}
				runningTotal += st.LastQueryVisitCount
				if st.TotalVisitCount != runningTotal {
					t.Fatalf("TotalVisitCount = %d, want %d", st.TotalVisitCount, runningTotal)
				}
			}
		})
	}
}

func TestAllVariants_DegenerateLineCloud(t *testing.T) {
	// 1000 points on a line segment in 3-D; the sliding midpoint must not
	// produce empty subtrees and every variant must stay exact.
	n := 1000
	data := make([]float64, n*3)
	for i := 0; i < n; i++ {
		s := float64(i) / float64(n)
		data[i*3+0] = 0.5 + 0.1*s
		data[i*3+1] = -2 * s
		data[i*3+2] = 3 * s
	}
	q := []float64{0.55, -1, 1.5}
	k := 10

	oracle, err := NewBruteForce(data, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := oracle.Knn(q, k, 0, SortResults|AllowSelfMatch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantDists := sortedDistances(t, data, 3, q, want)

	for _, variant := range treeVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 3, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, k, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotDists := sortedDistances(t, data, 3, q, got)
			for i := range wantDists {
				if gotDists[i] != wantDists[i] {
					t.Fatalf("distances %v, want %v", gotDists, wantDists)
				}
			}
		})
	}
}

func TestAllVariants_Float32(t *testing.T) {
	rng := rand.New(rand.NewSource(127))
	n := 150
	dims := 3
	data := make([]float32, n*dims)
	for i := range data {
		data[i] = rng.Float32()
	}
	q := []float32{0.3, 0.6, 0.1}
	k := 5

	oracle, err := NewBruteForce(data, dims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := oracle.Knn(q, k, 0, SortResults|AllowSelfMatch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, variant := range treeVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, dims, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, k, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range want {
				wd := dist2(q, data[want[i]*dims:(want[i]+1)*dims])
				gd := dist2(q, data[got[i]*dims:(got[i]+1)*dims])
				if wd != gd {
					t.Fatalf("result %d distance %v, oracle %v", i, gd, wd)
				}
			}
		})
	}
}

func TestAllVariants_KnnM(t *testing.T) {
	rng := rand.New(rand.NewSource(131))
	data := uniformCloud(rng, 100, 2)
	m := 7
	queries := uniformCloud(rng, m, 2)
	k := 3

	oracle, err := NewBruteForce(data, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := oracle.KnnM(queries, k, 0, SortResults|AllowSelfMatch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, variant := range treeVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 2, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.KnnM(queries, k, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != m {
				t.Fatalf("got %d result columns, want %d", len(got), m)
			}
			for col := 0; col < m; col++ {
				q := queries[col*2 : (col+1)*2]
				for i := range want[col] {
					wd := dist2(q, data[want[col][i]*2:(want[col][i]+1)*2])
					gd := dist2(q, data[got[col][i]*2:(got[col][i]+1)*2])
					if wd != gd {
						t.Fatalf("column %d result %d: distance %v, oracle %v", col, i, gd, wd)
					}
				}
			}
		})
	}
}

func TestAllVariants_LargeKUsesBinaryHeap(t *testing.T) {
	// k above the linear-set threshold exercises the binary-heap path of
	// the sliding-midpoint searchers.
	rng := rand.New(rand.NewSource(137))
	data := uniformCloud(rng, 400, 3)
	q := []float64{0.2, 0.9, 0.4}
	k := linearHeapMaxK + 9

	want := exactDistances(data, 3, q)[:k]
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 3, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := s.Knn(q, k, 0, SortResults|AllowSelfMatch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotDists := sortedDistances(t, data, 3, q, got)
			for i := range want {
				if gotDists[i] != want[i] {
					t.Fatalf("distances %v, want %v", gotDists[:5], want[:5])
				}
			}
		})
	}
}

func TestAllVariants_ConcurrentQueries(t *testing.T) {
	rng := rand.New(rand.NewSource(139))
	data := uniformCloud(rng, 200, 3)
	queries := make([][]float64, 16)
	expected := make([][]float64, 16)
	for i := range queries {
		queries[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		expected[i] = exactDistances(data, 3, queries[i])[:4]
	}

	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			s, err := New(data, 3, Config{Variant: variant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var wg sync.WaitGroup
			errs := make(chan error, len(queries)*4)
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i, q := range queries {
						got, err := s.Knn(q, 4, 0, SortResults|AllowSelfMatch)
						if err != nil {
							errs <- err
							return
						}
						for j, idx := range got {
							d := dist2(q, data[idx*3:idx*3+3])
							if d != expected[i][j] {
								errs <- fmt.Errorf("query %d result %d: distance %v, want %v", i, j, d, expected[i][j])
								return
							}
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
			if st := s.Stats(); st.TotalVisitCount == 0 {
				t.Error("TotalVisitCount = 0 after concurrent queries")
			}
		})
	}
}

func TestFactory_UnknownVariant(t *testing.T) {
	if _, err := New(squareCloud, 2, Config{Variant: "octree"}); err == nil {
		t.Error("unknown variant accepted, want error")
	}
}

func TestFactory_DefaultConfig(t *testing.T) {
	s, err := New(squareCloud, 2, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*KDTreeMidpointOpt[float64]); !ok {
		t.Errorf("DefaultConfig built %T", s)
	}
}

func TestFactory_ConstructionErrors(t *testing.T) {
	for _, variant := range allVariants {
		t.Run(string(variant), func(t *testing.T) {
			if _, err := New[float64](nil, 2, Config{Variant: variant}); err == nil {
				t.Error("empty cloud accepted, want error")
			}
			if _, err := New([]float64{1, 2}, 0, Config{Variant: variant}); err == nil {
				t.Error("zero dimensions accepted, want error")
			}
		})
	}
}
