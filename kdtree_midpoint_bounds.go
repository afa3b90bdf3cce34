package nnsearch

// Sliding-midpoint tree with explicit bounds: each internal node also
// stores the cell extents along its own split dimension. Descent needs no
// offset vector, since the contribution the current cell already makes
// along the split dimension can be recomputed from the stored extents;
// the price is a larger node.

// boundNode is one node of the explicit-bounds tree. A leaf is encoded as
// dim < 0 with cloud column -dim - 1.
type boundNode[T Scalar] struct {
	dim        int32
	rightChild uint32
	cutVal     T
	lowBound   T
	highBound  T
}

// KDTreeMidpointBounds is the explicit-bounds sliding-midpoint searcher.
type KDTreeMidpointBounds[T Scalar] struct {
	searchStats
	cloud cloud[T]
	nodes []boundNode[T]
}

// NewKDTreeMidpointBounds builds a sliding-midpoint tree with per-node
// explicit bounds.
func NewKDTreeMidpointBounds[T Scalar](data []T, dims int) (*KDTreeMidpointBounds[T], error) {
	c, err := newCloud(data, dims)
	if err != nil {
		return nil, err
	}
	t := &KDTreeMidpointBounds[T]{cloud: c}
	t.nodes = make([]boundNode[T], 0, 2*c.n-1)

	minV := make([]T, dims)
	maxV := make([]T, dims)
	copy(minV, c.minBound)
	copy(maxV, c.maxBound)
	t.buildNodes(identityPerm(c.n), minV, maxV)
	return t, nil
}

func (t *KDTreeMidpointBounds[T]) buildNodes(idx []int, minV, maxV []T) uint32 {
	count := len(idx)
	if count == 1 {
		t.nodes = append(t.nodes, boundNode[T]{dim: int32(-idx[0] - 1)})
		return uint32(len(t.nodes) - 1)
	}

	cd := largestSpreadDim(minV, maxV)
	lo, hi := minMaxAlongDim(idx, &t.cloud, cd)
	cut := (minV[cd] + maxV[cd]) / 2
	if cut < lo {
		cut = lo
	}
	if cut > hi {
		cut = hi
	}
	l := partitionByDim(idx, &t.cloud, cd, cut)
	if l == 0 {
		swapMinToFront(idx, &t.cloud, cd)
		l = 1
		cut = lo
	}

	pos := len(t.nodes)
	t.nodes = append(t.nodes, boundNode[T]{})
	lowBound, highBound := minV[cd], maxV[cd]

	maxV[cd] = cut
	t.buildNodes(idx[:l], minV, maxV)
	maxV[cd] = highBound

	minV[cd] = cut
	rc := t.buildNodes(idx[l:], minV, maxV)
	minV[cd] = lowBound

	t.nodes[pos] = boundNode[T]{
		dim:        int32(cd),
		rightChild: rc,
		cutVal:     cut,
		lowBound:   lowBound,
		highBound:  highBound,
	}
	return uint32(pos)
}

// Knn implements [Searcher].
func (t *KDTreeMidpointBounds[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
	if err := checkQuery(&t.cloud, query, k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0
	sorted := flags&SortResults != 0
	maxError := (1 + eps) * (1 + eps)

	var visits uint64
	var res []int
	if k <= linearHeapMaxK {
		res = boundsKnn(t, newLinearHeap[T](k), query, k, maxError, allowSelf, sorted, &visits)
	} else {
		res = boundsKnn(t, newIndexHeap[T](k), query, k, maxError, allowSelf, sorted, &visits)
	}
	t.record(visits)
	return res, nil
}

// KnnM implements [Searcher].
func (t *KDTreeMidpointBounds[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	return batchKnn(&t.cloud, queries, k, eps, flags, t.Knn)
}

func boundsKnn[T Scalar, H candidateSet[T]](t *KDTreeMidpointBounds[T], h H, query []T, k int, maxError T, allowSelf, sorted bool, visits *uint64) []int {
	// Initial bound: squared distance from the query to the cloud's
	// bounding box, consistent with the per-node stored extents.
	var rd T
	for d := 0; d < t.cloud.dims; d++ {
		if query[d] < t.cloud.minBound[d] {
			o := t.cloud.minBound[d] - query[d]
			rd += o * o
		} else if query[d] > t.cloud.maxBound[d] {
			o := query[d] - t.cloud.maxBound[d]
			rd += o * o
		}
	}
	boundsRecurse(t, h, query, 0, rd, maxError, allowSelf, visits)
	return h.indices(sorted, k)
}

// boundsRecurse recomputes the current cell's contribution along the split
// dimension from the stored extents, so the far child's bound is derived
// directly rather than carried in an offset vector.
func boundsRecurse[T Scalar, H candidateSet[T]](t *KDTreeMidpointBounds[T], h H, query []T, pos uint32, rd T, maxError T, allowSelf bool, visits *uint64) {
	node := &t.nodes[pos]
	if node.dim < 0 {
		index := int(-node.dim - 1)
		d := dist2(query, t.cloud.col(index))
		*visits++
		if d < h.headDist() && (allowSelf || d > 0) {
			h.insert(d, index)
		}
		return
	}

	cd := node.dim
	qv := query[cd]
	var oldOff T
	if qv < node.lowBound {
		oldOff = node.lowBound - qv
	} else if qv > node.highBound {
		oldOff = qv - node.highBound
	}

	if qv < node.cutVal {
		boundsRecurse(t, h, query, pos+1, rd, maxError, allowSelf, visits)
		newOff := node.cutVal - qv
		newRd := rd - oldOff*oldOff + newOff*newOff
		if newRd*maxError < h.headDist() {
			boundsRecurse(t, h, query, node.rightChild, newRd, maxError, allowSelf, visits)
		}
	} else {
		boundsRecurse(t, h, query, node.rightChild, rd, maxError, allowSelf, visits)
		newOff := qv - node.cutVal
		newRd := rd - oldOff*oldOff + newOff*newOff
		if newRd*maxError < h.headDist() {
			boundsRecurse(t, h, query, pos+1, newRd, maxError, allowSelf, visits)
		}
	}
}
