package nnsearch

import (
	"fmt"
	"sync/atomic"
)

// Scalar is the set of floating-point types a cloud can be made of.
type Scalar interface {
	float32 | float64
}

// invalidIndex fills result slots for which no eligible candidate exists.
// That can only happen when self-matching is disallowed and k leaves no
// room to skip the coincident points.
const invalidIndex = -1

// SearchFlags is a bit mask of per-query options.
type SearchFlags uint

const (
	// AllowSelfMatch permits cloud points at squared distance exactly zero
	// from the query to appear in the result. When unset, every
	// zero-distance candidate is skipped, which supports querying with a
	// point that is itself part of the cloud.
	AllowSelfMatch SearchFlags = 1 << iota

	// SortResults orders the returned indices by ascending squared distance.
	// Without it the order is unspecified but stable within a single call.
	SortResults
)

// knownFlags is the set of flag bits Knn accepts. Anything outside it is
// rejected with an error.
const knownFlags = AllowSelfMatch | SortResults

// Statistics is a snapshot of a searcher's visit counters.
//
// The counters are maintained with relaxed atomic operations: they are safe
// to read concurrently with queries, but no consistency is promised between
// the two fields, and with concurrent queries LastQueryVisitCount reflects
// whichever query finished last.
type Statistics struct {
	// LastQueryVisitCount is the number of point visits performed by the
	// most recently completed query.
	LastQueryVisitCount uint64

	// TotalVisitCount is the cumulative number of point visits across all
	// queries since construction.
	TotalVisitCount uint64
}

// searchStats backs the Stats method of every searcher. Failed queries do
// not record; counters only advance on completed searches.
type searchStats struct {
	lastQueryVisitCount atomic.Uint64
	totalVisitCount     atomic.Uint64
}

func (s *searchStats) record(visits uint64) {
	s.lastQueryVisitCount.Store(visits)
	s.totalVisitCount.Add(visits)
}

// Stats returns a snapshot of the searcher's visit counters.
func (s *searchStats) Stats() Statistics {
	return Statistics{
		LastQueryVisitCount: s.lastQueryVisitCount.Load(),
		TotalVisitCount:     s.totalVisitCount.Load(),
	}
}

// Searcher answers k-nearest-neighbour queries against a fixed cloud.
//
// A Searcher is immutable after construction; concurrent Knn and KnnM calls
// are safe without external synchronisation.
type Searcher[T Scalar] interface {
	// Knn returns the k cloud column indices closest to query in squared
	// Euclidean distance. With eps == 0 the result is exact; with eps > 0
	// every returned squared distance is at most (1+eps)² times the exact
	// k-th squared distance. Result slots with no eligible candidate hold -1.
	Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error)

	// KnnM runs one Knn per column of the column-major query matrix and
	// returns the per-column results.
	KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error)

	// Stats returns the searcher's visit counters.
	Stats() Statistics
}

// Variant selects a searcher implementation.
type Variant string

const (
	// VariantBruteForce scans every cloud column. O(N) per query,
	// insensitive to dimensionality; useful as a correctness oracle.
	VariantBruteForce Variant = "brute"

	// VariantBalancedPQ is the balanced points-in-nodes tree searched
	// best-first through a priority queue of subtree lower bounds.
	VariantBalancedPQ Variant = "balanced_pq"

	// VariantBalancedStack is the balanced points-in-nodes tree searched
	// depth-first with incremental offset maintenance.
	VariantBalancedStack Variant = "balanced_stack"

	// VariantBalancedLeaves is the balanced tree that keeps points in
	// leaves and only split planes in internal nodes.
	VariantBalancedLeaves Variant = "balanced_leaves"

	// VariantMidpoint is the sliding-midpoint tree with implicit cell
	// bounds, re-derived during descent.
	VariantMidpoint Variant = "midpoint"

	// VariantMidpointOpt is VariantMidpoint with a cache-friendlier node
	// layout; identical results, higher throughput.
	VariantMidpointOpt Variant = "midpoint_opt"

	// VariantMidpointBounds is the sliding-midpoint tree that stores each
	// node's cell extents along its split dimension, trading index size
	// for tighter pruning without an offset vector.
	VariantMidpointBounds Variant = "midpoint_bounds"
)

// Config controls searcher construction.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Variant selects the index structure and search strategy.
	// Default: VariantMidpointOpt.
	Variant Variant

	// BalanceVariance selects the split axis policy of
	// VariantBalancedLeaves: when true the axis of largest spread is split,
	// otherwise axes are cycled by depth. Ignored by the other variants.
	// Default: true.
	BalanceVariance bool
}

// DefaultConfig returns the configuration used when no overrides are needed.
func DefaultConfig() Config {
	return Config{
		Variant:         VariantMidpointOpt,
		BalanceVariance: true,
	}
}

// New builds a searcher over the cloud held in data, a D×N column-major
// buffer with dims rows. The cloud is referenced, not copied; it must
// outlive the searcher and must not be mutated while the searcher is alive.
func New[T Scalar](data []T, dims int, cfg Config) (Searcher[T], error) {
	switch cfg.Variant {
	case VariantBruteForce:
		return NewBruteForce(data, dims)
	case VariantBalancedPQ:
		return NewKDTreeBalancedPQ(data, dims)
	case VariantBalancedStack:
		return NewKDTreeBalancedStack(data, dims)
	case VariantBalancedLeaves:
		return NewKDTreeBalancedLeaves(data, dims, cfg.BalanceVariance)
	case VariantMidpoint:
		return NewKDTreeMidpoint(data, dims)
	case VariantMidpointOpt:
		return NewKDTreeMidpointOpt(data, dims)
	case VariantMidpointBounds:
		return NewKDTreeMidpointBounds(data, dims)
	}
	return nil, fmt.Errorf("nnsearch: unknown variant %q", cfg.Variant)
}

// checkQuery validates the per-query arguments shared by every searcher.
func checkQuery[T Scalar](c *cloud[T], query []T, k int, eps T, flags SearchFlags) error {
	if len(query) != c.dims {
		return fmt.Errorf("nnsearch: query has %d dimensions, cloud has %d", len(query), c.dims)
	}
	if k < 1 || k > c.n {
		return fmt.Errorf("nnsearch: k must be in [1, %d], got %d", c.n, k)
	}
	if eps < 0 {
		return fmt.Errorf("nnsearch: eps must be >= 0, got %v", eps)
	}
	if flags&^knownFlags != 0 {
		return fmt.Errorf("nnsearch: unknown option flags 0x%x", uint(flags&^knownFlags))
	}
	return nil
}

// batchKnn is the default KnnM driver: one independent Knn per column of the
// column-major query matrix.
func batchKnn[T Scalar](c *cloud[T], queries []T, k int, eps T, flags SearchFlags,
	knn func(query []T, k int, eps T, flags SearchFlags) ([]int, error)) ([][]int, error) {

	m, err := checkBatch(c, queries)
	if err != nil {
		return nil, err
	}
	results := make([][]int, m)
	for i := 0; i < m; i++ {
		r, err := knn(queries[i*c.dims:(i+1)*c.dims], k, eps, flags)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// checkBatch validates the shape of a query matrix and returns its column
// count.
func checkBatch[T Scalar](c *cloud[T], queries []T) (int, error) {
	if len(queries) == 0 {
		return 0, fmt.Errorf("nnsearch: empty query matrix")
	}
	if len(queries)%c.dims != 0 {
		return 0, fmt.Errorf("nnsearch: query matrix length %d is not a multiple of %d dimensions", len(queries), c.dims)
	}
	return len(queries) / c.dims, nil
}
