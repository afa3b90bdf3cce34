package nnsearch

import "container/heap"

// Balanced points-in-nodes tree. Every node, internal or leaf, holds one
// cloud point; the node array follows the implicit binary-heap layout, so
// children are found by position arithmetic and no child links are stored.

const (
	// ptNodeLeaf marks a node with no children.
	ptNodeLeaf = -1
	// ptNodeInvalid marks a heap slot with no node at all. Search skips it.
	ptNodeInvalid = -2
)

// ptNode is one slot of the implicit-heap array. Coordinates are re-read
// from the cloud through index, keeping the node at two machine words.
type ptNode struct {
	dim   int // split dimension, or ptNodeLeaf / ptNodeInvalid
	index int // cloud column held by this node
}

// balancedNodeTree carries the build and layout shared by the PQ and stack
// searchers.
type balancedNodeTree[T Scalar] struct {
	searchStats
	cloud cloud[T]
	nodes []ptNode
}

// init builds the tree in place; the counters it carries must not be
// copied once constructed.
func (t *balancedNodeTree[T]) init(data []T, dims int) error {
	c, err := newCloud(data, dims)
	if err != nil {
		return err
	}
	t.cloud = c
	t.nodes = make([]ptNode, nextPow2(c.n+1)-1)
	for i := range t.nodes {
		t.nodes[i].dim = ptNodeInvalid
	}
	t.buildNodes(identityPerm(c.n), 0)
	return nil
}

// buildNodes places the median of idx along its largest-spread dimension at
// heap position pos and recurses on the two halves. The left half receives
// the extra point when the remainder is odd, which keeps the subtree depth
// within the pre-sized heap array.
func (t *balancedNodeTree[T]) buildNodes(idx []int, pos int) {
	count := len(idx)
	if count == 1 {
		t.nodes[pos] = ptNode{dim: ptNodeLeaf, index: idx[0]}
		return
	}

	d := largestSpreadDimSubset(idx, &t.cloud)
	sortByDim(idx, &t.cloud, d)

	rightCount := (count - 1) / 2
	leftCount := count - 1 - rightCount
	t.nodes[pos] = ptNode{dim: d, index: idx[leftCount]}

	t.buildNodes(idx[:leftCount], childLeft(pos))
	if rightCount > 0 {
		t.buildNodes(idx[leftCount+1:], childRight(pos))
	}
}

// KDTreeBalancedPQ searches the balanced points-in-nodes tree best-first:
// a frontier ordered by subtree lower-bound distance is popped until the
// best remaining bound cannot improve the current k-th candidate.
type KDTreeBalancedPQ[T Scalar] struct {
	balancedNodeTree[T]
}

// NewKDTreeBalancedPQ builds a balanced points-in-nodes tree searched with
// a priority-queue descent.
func NewKDTreeBalancedPQ[T Scalar](data []T, dims int) (*KDTreeBalancedPQ[T], error) {
	t := &KDTreeBalancedPQ[T]{}
	if err := t.init(data, dims); err != nil {
		return nil, err
	}
	return t, nil
}

// frontierItem is one subtree on the best-first frontier: its heap position
// and a lower bound on the squared distance from the query to any point in
// the subtree.
type frontierItem[T Scalar] struct {
	pos     int
	minDist T
}

// frontier is a min-heap of frontierItems keyed on minDist.
type frontier[T Scalar] []frontierItem[T]

func (f frontier[T]) Len() int            { return len(f) }
func (f frontier[T]) Less(i, j int) bool  { return f[i].minDist < f[j].minDist }
func (f frontier[T]) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier[T]) Push(x any)         { *f = append(*f, x.(frontierItem[T])) }
func (f *frontier[T]) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

// Knn implements [Searcher].
func (t *KDTreeBalancedPQ[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
	if err := checkQuery(&t.cloud, query, k, eps, flags); err != nil {
		return nil, err
	}
	allowSelf := flags&AllowSelfMatch != 0
	maxError := (1 + eps) * (1 + eps)

	h := newIndexHeap[T](k)
	fr := make(frontier[T], 0, 64)
	fr = append(fr, frontierItem[T]{pos: 0, minDist: 0})

	var visits uint64
	for len(fr) > 0 {
		el := heap.Pop(&fr).(frontierItem[T])
		if el.minDist*maxError > h.headDist() {
			break
		}
		node := t.nodes[el.pos]
		if node.dim == ptNodeInvalid {
			continue
		}

		p := t.cloud.col(node.index)
		d := dist2(query, p)
		visits++
		if d < h.headDist() && (allowSelf || d > 0) {
			h.insert(d, node.index)
		}
		if node.dim == ptNodeLeaf {
			continue
		}

		// The near child inherits the parent bound; the far child is at
		// least the squared distance to the splitting plane away.
		off := query[node.dim] - p[node.dim]
		near, far := childLeft(el.pos), childRight(el.pos)
		if off > 0 {
			near, far = far, near
		}
		farDist := off * off
		if el.minDist > farDist {
			farDist = el.minDist
		}
		if near < len(t.nodes) {
			heap.Push(&fr, frontierItem[T]{pos: near, minDist: el.minDist})
		}
		if far < len(t.nodes) {
			heap.Push(&fr, frontierItem[T]{pos: far, minDist: farDist})
		}
	}
	t.record(visits)
	return h.indices(flags&SortResults != 0, k), nil
}

// KnnM implements [Searcher].
func (t *KDTreeBalancedPQ[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	return batchKnn(&t.cloud, queries, k, eps, flags, t.Knn)
}

// KDTreeBalancedStack searches the balanced points-in-nodes tree
// depth-first, near child first, carrying an offset vector whose squared
// norm lower-bounds the distance from the query to the current cell.
type KDTreeBalancedStack[T Scalar] struct {
	balancedNodeTree[T]
}

// NewKDTreeBalancedStack builds a balanced points-in-nodes tree searched
// with a recursive descent.
func NewKDTreeBalancedStack[T Scalar](data []T, dims int) (*KDTreeBalancedStack[T], error) {
	t := &KDTreeBalancedStack[T]{}
	if err := t.init(data, dims); err != nil {
		return nil, err
	}
	return t, nil
}

// Knn implements [Searcher].
func (t *KDTreeBalancedStack[T]) Knn(query []T, k int, eps T, flags SearchFlags) ([]int, error) {
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
func (t *KDTreeBalancedStack[T]) KnnM(queries []T, k int, eps T, flags SearchFlags) ([][]int, error) {
	return batchKnn(&t.cloud, queries, k, eps, flags, t.Knn)
}

// recurseKnn evaluates the point at pos, then descends near child first.
// rd is the squared norm of off; the far child is entered only when
// substituting the split dimension's contribution keeps rd inside the
// pruning radius. One add and one subtract per descent, no recomputation.
func (t *KDTreeBalancedStack[T]) recurseKnn(query []T, pos int, rd T, h *indexHeap[T], off []T, maxError T, allowSelf bool, visits *uint64) {
	node := t.nodes[pos]
	if node.dim == ptNodeInvalid {
		return
	}

	p := t.cloud.col(node.index)
	d := dist2(query, p)
	*visits++
	if d < h.headDist() && (allowSelf || d > 0) {
		h.insert(d, node.index)
	}
	if node.dim == ptNodeLeaf {
		return
	}

	cd := node.dim
	oldOff := off[cd]
	newOff := query[cd] - p[cd]
	near, far := childLeft(pos), childRight(pos)
	if newOff > 0 {
		near, far = far, near
	}

	if near < len(t.nodes) {
		t.recurseKnn(query, near, rd, h, off, maxError, allowSelf, visits)
	}
	newRd := rd - oldOff*oldOff + newOff*newOff
	if far < len(t.nodes) && newRd*maxError < h.headDist() {
		off[cd] = newOff
		t.recurseKnn(query, far, newRd, h, off, maxError, allowSelf, visits)
		off[cd] = oldOff
	}
}
