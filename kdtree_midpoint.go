package nnsearch

import "sort"

// Unbalanced points-in-leaves tree built with the sliding-midpoint rule:
// split the longest side of the current cell at its midpoint, sliding the
// cut to the occupied range so no subtree is ever empty, even on heavily
// skewed or partially degenerate clouds. Cell bounds are maintained during
// build and descent but never stored (implicit bounds).
//
// Subtree sizes differ, so the implicit heap layout does not apply: the
// left child is the next node in the array and the right child is linked
// explicitly.

// invalidChild marks a leaf in the explicit-child node layouts.
const invalidChild = ^uint32(0)

// midNode is one node of the implicit-bounds tree. Internal nodes use dim,
// cutVal and rightChild; a leaf is marked by rightChild == invalidChild and
// carries its cloud column in index.
type midNode[T Scalar] struct {
	dim        int32
	rightChild uint32
	cutVal     T
	index      int32
}

// KDTreeMidpoint is the sliding-midpoint, implicit-bounds searcher.
type KDTreeMidpoint[T Scalar] struct {
	searchStats
	cloud cloud[T]
	nodes []midNode[T]
}

// NewKDTreeMidpoint builds a sliding-midpoint tree with implicit bounds.
func NewKDTreeMidpoint[T Scalar](data []T, dims int) (*KDTreeMidpoint[T], error) {
	c, err := newCloud(data, dims)
	if err != nil {
		return nil, err
	}
	t := &KDTreeMidpoint[T]{cloud: c}
	t.nodes = make([]midNode[T], 0, 2*c.n-1)

	minV := make([]T, dims)
	maxV := make([]T, dims)
	copy(minV, c.minBound)
	copy(maxV, c.maxBound)
	t.buildNodes(identityPerm(c.n), minV, maxV)
	return t, nil
}

// buildNodes appends the subtree over idx and returns its root position.
// minV and maxV are the cell inherited from the parent; they are narrowed
// for each recursive call and restored afterwards.
func (t *KDTreeMidpoint[T]) buildNodes(idx []int, minV, maxV []T) uint32 {
	count := len(idx)
	if count == 1 {
		t.nodes = append(t.nodes, midNode[T]{rightChild: invalidChild, index: int32(idx[0])})
		return uint32(len(t.nodes) - 1)
	}

	// Split the longest cell side at its midpoint, sliding the cut into
	// the range the points actually occupy.
	cd := largestSpreadDim(minV, maxV)
	sortByDim(idx, &t.cloud, cd)
	lo := t.cloud.at(cd, idx[0])
	hi := t.cloud.at(cd, idx[count-1])
	cut := (minV[cd] + maxV[cd]) / 2
	if cut < lo {
		cut = lo
	}
	if cut > hi {
		cut = hi
	}
	l := sort.Search(count, func(i int) bool { return t.cloud.at(cd, idx[i]) >= cut })
	if l == 0 {
		// The cut slid onto the minimum; isolate the first point so both
		// subtrees stay non-empty.
		l = 1
		cut = lo
	}

	pos := len(t.nodes)
	t.nodes = append(t.nodes, midNode[T]{})

	oldMax := maxV[cd]
	maxV[cd] = cut
	t.buildNodes(idx[:l], minV, maxV)
	maxV[cd] = oldMax

	oldMin := minV[cd]
	minV[cd] = cut
	rc := t.buildNodes(idx[l:], minV, maxV)
	minV[cd] = oldMin

	t.nodes[pos] = midNode[T]{dim: int32(cd), rightChild: rc, cutVal: cut}
	return uint32(pos)
}

// Knn implements [Searcher].
func (t *KDTreeMidpoint[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
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
		res = midpointKnn(t, newLinearHeap[T](k), query, k, maxError, allowSelf, sorted, off, &visits)
	} else {
		res = midpointKnn(t, newIndexHeap[T](k), query, k, maxError, allowSelf, sorted, off, &visits)
	}
	t.record(visits)
	return res, nil
}

// KnnM implements [Searcher]. Unlike the default driver it reuses one
// candidate set and one offset vector across all columns.
func (t *KDTreeMidpoint[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
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
		return midpointBatch(t, newLinearHeap[T](k), queries, m, k, maxError, allowSelf, sorted), nil
	}
	return midpointBatch(t, newIndexHeap[T](k), queries, m, k, maxError, allowSelf, sorted), nil
}

// midpointKnn runs one query through a concrete candidate set type,
// keeping the recursion free of interface dispatch.
func midpointKnn[T Scalar, H candidateSet[T]](t *KDTreeMidpoint[T], h H, query []T, k int, maxError T, allowSelf, sorted bool, off []T, visits *uint64) []int {
	rd := t.cloud.cellOffsets(query, off)
	midpointRecurse(t, h, query, 0, rd, off, maxError, allowSelf, visits)
	return h.indices(sorted, k)
}

func midpointBatch[T Scalar, H candidateSet[T]](t *KDTreeMidpoint[T], h H, queries []T, m, k int, maxError T, allowSelf, sorted bool) [][]int {
	dims := t.cloud.dims
	results := make([][]int, m)
	off := make([]T, dims)
	for i := 0; i < m; i++ {
		h.reset()
		var visits uint64
		results[i] = midpointKnn(t, h, queries[i*dims:(i+1)*dims], k, maxError, allowSelf, sorted, off, &visits)
		t.record(visits)
	}
	return results
}

// midpointRecurse descends near child first. rd is the squared norm of
// off, a lower bound on the distance from the query to the current cell;
// entering the far child substitutes the split dimension's contribution
// with the distance to the cut, one add and one subtract per descent.
func midpointRecurse[T Scalar, H candidateSet[T]](t *KDTreeMidpoint[T], h H, query []T, pos uint32, rd T, off []T, maxError T, allowSelf bool, visits *uint64) {
	node := &t.nodes[pos]
	if node.rightChild == invalidChild {
		index := int(node.index)
		d := dist2(query, t.cloud.col(index))
		*visits++
		if d < h.headDist() && (allowSelf || d > 0) {
			h.insert(d, index)
		}
		return
	}

	cd := node.dim
	distToCut := query[cd] - node.cutVal
	near, far := pos+1, node.rightChild
	if distToCut > 0 {
		near, far = far, near
	}

	midpointRecurse(t, h, query, near, rd, off, maxError, allowSelf, visits)

	oldOff := off[cd]
	newRd := rd - oldOff*oldOff + distToCut*distToCut
	if newRd*maxError < h.headDist() {
		off[cd] = distToCut
		midpointRecurse(t, h, query, far, newRd, off, maxError, allowSelf, visits)
		off[cd] = oldOff
	}
}
