package nnsearch

// BruteForce answers queries with a linear scan over every cloud column.
// O(N·D) per query regardless of distribution; the other searchers are
// validated against it.
type BruteForce[T Scalar] struct {
	searchStats
	cloud cloud[T]
}

// NewBruteForce builds a brute-force searcher over the column-major cloud.
func NewBruteForce[T Scalar](data []T, dims int) (*BruteForce[T], error) {
	c, err := newCloud(data, dims)
	if err != nil {
		return nil, err
	}
	return &BruteForce[T]{cloud: c}, nil
}

// Knn implements [Searcher].
func (s *BruteForce[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
	if err := checkQuery(&s.cloud, query, k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0

	h := newIndexHeap[T](k)
	scratch := make([]T, s.cloud.dims)
	var visits uint64
	for i := 0; i < s.cloud.n; i++ {
		d := dist2Into(scratch, query, s.cloud.col(i))
		visits++
		if d < h.headDist() && (allowSelf || d > 0) {
			h.insert(d, i)
		}
	}
	s.record(visits)
	return h.indices(flags&SortResults != 0, k), nil
}

// KnnM implements [Searcher].
func (s *BruteForce[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	return batchKnn(&s.cloud, queries, k, eps, flags, s.Knn)
}
