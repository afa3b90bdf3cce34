package nnsearch

// Balanced points-in-leaves tree. Internal nodes carry only a split
// dimension and cut value; every cloud point sits in its own leaf. The
// node array keeps the implicit binary-heap layout of the points-in-nodes
// variant; a tree over N points occupies 2N-1 nodes, N-1 more than the
// points-in-nodes layout.

// leafNodeInvalid marks an empty heap slot; leaves encode the cloud index
// as dim = -2 - index, so any dim <= -2 is a leaf.
const leafNodeInvalid = -1

type leafNode[T Scalar] struct {
	dim    int // split dimension; leafNodeInvalid; or -2 - cloudIndex
	cutVal T   // internal nodes only
}

// KDTreeBalancedLeaves is the balanced points-in-leaves searcher.
type KDTreeBalancedLeaves[T Scalar] struct {
	searchStats
	cloud           cloud[T]
	nodes           []leafNode[T]
	balanceVariance bool
}

// NewKDTreeBalancedLeaves builds a balanced points-in-leaves tree. With
// balanceVariance set, each split uses the axis of largest spread of the
// subset; otherwise axes are cycled by depth.
func NewKDTreeBalancedLeaves[T Scalar](data []T, dims int, balanceVariance bool) (*KDTreeBalancedLeaves[T], error) {
	c, err := newCloud(data, dims)
	if err != nil {
		return nil, err
	}
	t := &KDTreeBalancedLeaves[T]{cloud: c, balanceVariance: balanceVariance}
	t.nodes = make([]leafNode[T], 2*nextPow2(c.n)-1)
	for i := range t.nodes {
		t.nodes[i].dim = leafNodeInvalid
	}
	t.buildNodes(identityPerm(c.n), 0, 0)
	return t, nil
}

func (t *KDTreeBalancedLeaves[T]) buildNodes(idx []int, pos, depth int) {
	count := len(idx)
	if count == 1 {
		t.nodes[pos] = leafNode[T]{dim: -2 - idx[0]}
		return
	}

	var cd int
	if t.balanceVariance {
		cd = largestSpreadDimSubset(idx, &t.cloud)
	} else {
		cd = depth % t.cloud.dims
	}
	sortByDim(idx, &t.cloud, cd)

	// Cut at the first point of the right half: the left half is <= the
	// cut by the sort, the right half >=.
	l := (count + 1) / 2
	cut := t.cloud.at(cd, idx[l])
	t.nodes[pos] = leafNode[T]{dim: cd, cutVal: cut}

	t.buildNodes(idx[:l], childLeft(pos), depth+1)
	t.buildNodes(idx[l:], childRight(pos), depth+1)
}

// Knn implements [Searcher].
func (t *KDTreeBalancedLeaves[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
	if err := checkQuery(&t.cloud, query, k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0
	maxError := (1 + eps) * (1 + eps)

	h := newIndexHeap[T](k)
	off := make([]T, t.cloud.dims)
	var visits uint64
	t.recurseKnn(query, 0, 0, h, off, maxError, allowSelf, &visits)
	t.record(visits)
	return h.indices(flags&SortResults != 0, k), nil
}

// KnnM implements [Searcher].
func (t *KDTreeBalancedLeaves[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	return batchKnn(&t.cloud, queries, k, eps, flags, t.Knn)
}

// recurseKnn is the same incremental-offset descent as the points-in-nodes
// stack searcher; a leaf holds a single point, so the leaf case is one
// distance evaluation.
func (t *KDTreeBalancedLeaves[T]) recurseKnn(query []T, pos int, rd T, h *indexHeap[T], off []T, maxError T, allowSelf bool, visits *uint64) {
	node := t.nodes[pos]
	cd := node.dim
	if cd < 0 {
		if cd == leafNodeInvalid {
			return
		}
		index := -2 - cd
		d := dist2(query, t.cloud.col(index))
		*visits++
		if d < h.headDist() && (allowSelf || d > 0) {
			h.insert(d, index)
		}
		return
	}

	oldOff := off[cd]
	newOff := query[cd] - node.cutVal
	near, far := childLeft(pos), childRight(pos)
	if newOff > 0 {
		near, far = far, near
	}

	t.recurseKnn(query, near, rd, h, off, maxError, allowSelf, visits)
	newRd := rd - oldOff*oldOff + newOff*newOff
	if newRd*maxError < h.headDist() {
		off[cd] = newOff
		t.recurseKnn(query, far, newRd, h, off, maxError, allowSelf, visits)
		off[cd] = oldOff
	}
}
