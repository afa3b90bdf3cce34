// Package nnsearch implements exact and approximate k-nearest-neighbour
// search over static point clouds in low- to moderate-dimensional
// Euclidean space.
//
// A cloud is a D×N column-major buffer of float32 or float64 scalars, one
// point per column. An index is built once over the cloud and is immutable
// afterwards; concurrent queries against a built index are safe.
//
// Basic usage:
//
//	data := []float64{0, 0, 1, 0, 0, 1} // three 2-D points, column-major
//	s, err := nnsearch.New(data, 2, nnsearch.DefaultConfig())
//	indices, err := s.Knn([]float64{0.2, 0.1}, 2, 0, nnsearch.SortResults)
//	// indices[0] is the column of the nearest cloud point
//
// # Searcher variants
//
// Seven searchers share the same interface and differ in index layout and
// traversal strategy. VariantBruteForce scans every column and serves as a
// correctness oracle. The balanced trees store one point per node in an
// implicit binary-heap array and come in best-first (VariantBalancedPQ) and
// depth-first (VariantBalancedStack) flavours, plus a points-in-leaves
// layout (VariantBalancedLeaves). The sliding-midpoint trees
// (VariantMidpoint, VariantMidpointOpt, VariantMidpointBounds) keep points
// in leaves, tolerate heavily skewed clouds, and are the fastest for
// typical workloads; VariantMidpointOpt is the default.
//
// All distances are squared Euclidean; the library never takes a square
// root. An approximation factor eps > 0 relaxes pruning so that every
// returned squared distance is at most (1+eps)² times the exact k-th
// squared distance.
package nnsearch
