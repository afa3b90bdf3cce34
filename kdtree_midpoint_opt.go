package nnsearch

// Optimised sliding-midpoint tree. Same splits and search as KDTreeMidpoint
// with three inner-loop changes, measured on the leaf hot path:
//
//   - each leaf caches its point's column sub-slice of the cloud buffer, so
//     the distance evaluation never indirects through the column index;
//   - the build never sorts: extrema come from a single min/max pass and
//     the working array is partitioned in place;
//   - the zero-distance self-match branch is resolved once per query by
//     dispatching to one of two specialised recursions.

// midOptNode mirrors midNode with the leaf point cached.
type midOptNode[T Scalar] struct {
	dim        int32 // internal: split dimension; leaf: cloud column
	rightChild uint32
	cutVal     T
	pt         []T // leaf only
}

// KDTreeMidpointOpt is the throughput-tuned sliding-midpoint searcher.
// Results are identical to KDTreeMidpoint on the same cloud.
type KDTreeMidpointOpt[T Scalar] struct {
	searchStats
	cloud cloud[T]
	nodes []midOptNode[T]
}

// NewKDTreeMidpointOpt builds the optimised sliding-midpoint tree.
func NewKDTreeMidpointOpt[T Scalar](data []T, dims int) (*KDTreeMidpointOpt[T], error) {
	c, err := newCloud(data, dims)
	if err != nil {
		return nil, err
	}
	t := &KDTreeMidpointOpt[T]{cloud: c}
	t.nodes = make([]midOptNode[T], 0, 2*c.n-1)

	minV := make([]T, dims)
	maxV := make([]T, dims)
	copy(minV, c.minBound)
	copy(maxV, c.maxBound)
	t.buildNodes(identityPerm(c.n), minV, maxV)
	return t, nil
}

func (t *KDTreeMidpointOpt[T]) buildNodes(idx []int, minV, maxV []T) uint32 {
	count := len(idx)
	if count == 1 {
		t.nodes = append(t.nodes, midOptNode[T]{
			dim:        int32(idx[0]),
			rightChild: invalidChild,
			pt:         t.cloud.col(idx[0]),
		})
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
	t.nodes = append(t.nodes, midOptNode[T]{})

	oldMax := maxV[cd]
	maxV[cd] = cut
	t.buildNodes(idx[:l], minV, maxV)
	maxV[cd] = oldMax

	oldMin := minV[cd]
	minV[cd] = cut
	rc := t.buildNodes(idx[l:], minV, maxV)
	minV[cd] = oldMin

	t.nodes[pos] = midOptNode[T]{dim: int32(cd), rightChild: rc, cutVal: cut}
	return uint32(pos)
}

// Knn implements [Searcher].
func (t *KDTreeMidpointOpt[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
	if err := checkQuery(&t.cloud, query, k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0
	sorted := flags&SortResults != 0
	maxError := (1 + eps) * (1 + eps)

	off := make([]T, t.cloud.dims)
	var visits uint64
	var res []int
	if k <= linearHeapMaxK {
		res = midpointOptKnn(t, newLinearHeap[T](k), query, k, maxError, allowSelf, sorted, off, &visits)
	} else {
		res = midpointOptKnn(t, newIndexHeap[T](k), query, k, maxError, allowSelf, sorted, off, &visits)
	}
	t.record(visits)
	return res, nil
}

// KnnM implements [Searcher], reusing one candidate set and offset vector
// across columns.
func (t *KDTreeMidpointOpt[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	m, err := checkBatch(&t.cloud, queries)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(&t.cloud, queries[:t.cloud.dims], k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0
	sorted := flags&SortResults != 0
	maxError := (1 + eps) * (1 + eps)

	if k <= linearHeapMaxK {
		return midpointOptBatch(t, newLinearHeap[T](k), queries, m, k, maxError, allowSelf, sorted), nil
	}
	return midpointOptBatch(t, newIndexHeap[T](k), queries, m, k, maxError, allowSelf, sorted), nil
}

func midpointOptKnn[T Scalar, H candidateSet[T]](t *KDTreeMidpointOpt[T], h H, query []T, k int, maxError T, allowSelf, sorted bool, off []T, visits *uint64) []int {
	rd := t.cloud.cellOffsets(query, off)
	if allowSelf {
		midpointOptRecurseSelf(t, h, query, 0, rd, off, maxError, visits)
	} else {
		midpointOptRecurseNoSelf(t, h, query, 0, rd, off, maxError, visits)
	}
	return h.indices(sorted, k)
}

func midpointOptBatch[T Scalar, H candidateSet[T]](t *KDTreeMidpointOpt[T], h H, queries []T, m, k int, maxError T, allowSelf, sorted bool) [][]int {
	dims := t.cloud.dims
	results := make([][]int, m)
	off := make([]T, dims)
	for i := 0; i < m; i++ {
		h.reset()
		var visits uint64
		results[i] = midpointOptKnn(t, h, queries[i*dims:(i+1)*dims], k, maxError, allowSelf, sorted, off, &visits)
		t.record(visits)
	}
	return results
}

func midpointOptRecurseSelf[T Scalar, H candidateSet[T]](t *KDTreeMidpointOpt[T], h H, query []T, pos uint32, rd T, off []T, maxError T, visits *uint64) {
	node := &t.nodes[pos]
	if node.rightChild == invalidChild {
		d := dist2(query, node.pt)
		*visits++
		if d < h.headDist() {
			h.insert(d, int(node.dim))
		}
		return
	}

	cd := node.dim
	distToCut := query[cd] - node.cutVal
	near, far := pos+1, node.rightChild
	if distToCut > 0 {
		near, far = far, near
	}

	midpointOptRecurseSelf(t, h, query, near, rd, off, maxError, visits)

	oldOff := off[cd]
	newRd := rd - oldOff*oldOff + distToCut*distToCut
	if newRd*maxError < h.headDist() {
		off[cd] = distToCut
		midpointOptRecurseSelf(t, h, query, far, newRd, off, maxError, visits)
		off[cd] = oldOff
	}
}

func midpointOptRecurseNoSelf[T Scalar, H candidateSet[T]](t *KDTreeMidpointOpt[T], h H, query []T, pos uint32, rd T, off []T, maxError T, visits *uint64) {
	node := &t.nodes[pos]
	if node.rightChild == invalidChild {
		d := dist2(query, node.pt)
		*visits++
		if d < h.headDist() && d > 0 {
			h.insert(d, int(node.dim))
		}
		return
	}

	cd := node.dim
	distToCut := query[cd] - node.cutVal
	near, far := pos+1, node.rightChild
	if distToCut > 0 {
		near, far = far, near
	}

	midpointOptRecurseNoSelf(t, h, query, near, rd, off, maxError, visits)

	oldOff := off[cd]
	newRd := rd - oldOff*oldOff + distToCut*distToCut
	if newRd*maxError < h.headDist() {
		off[cd] = distToCut
		midpointOptRecurseNoSelf(t, h, query, far, newRd, off, maxError, visits)
		off[cd] = oldOff
	}
}
