package nnsearch

import (
	"container/heap"
	"sort"
)

// candidate is one (squared distance, cloud index) entry of a bounded
// candidate set.
type candidate[T Scalar] struct {
	dist  T
	index int
}

// worse reports whether a should sit above b in a max-first ordering.
// Ties on distance break by index, which keeps drain order deterministic.
func (a candidate[T]) worse(b candidate[T]) bool {
	if a.dist != b.dist {
		return a.dist > b.dist
	}
	return a.index > b.index
}

// candidateSet tracks the k best candidates seen so far during a search.
// Insertion is a no-op unless the candidate beats the current worst entry.
type candidateSet[T Scalar] interface {
	// headDist returns the current worst retained squared distance, or +Inf
	// while fewer than k candidates have been inserted.
	headDist() T

	// insert offers a candidate; it is kept only if dist < headDist().
	insert(dist T, index int)

	// indices extracts the result, padded to k entries with invalidIndex.
	// With sorted set, entries are ascending by (distance, index).
	indices(sorted bool, k int) []int

	// reset empties the set for reuse with the same capacity.
	reset()
}

// indexHeap is a binary max-heap bounded at k entries, in the mould of
// container/heap. Preferred for larger k, where the O(log k) replacement
// beats a linear rescan.
type indexHeap[T Scalar] struct {
	items []candidate[T]
	k     int
}

func newIndexHeap[T Scalar](k int) *indexHeap[T] {
	return &indexHeap[T]{items: make([]candidate[T], 0, k), k: k}
}

func (h *indexHeap[T]) Len() int           { return len(h.items) }
func (h *indexHeap[T]) Less(i, j int) bool { return h.items[i].worse(h.items[j]) }
func (h *indexHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *indexHeap[T]) Push(x any) { h.items = append(h.items, x.(candidate[T])) }

func (h *indexHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

func (h *indexHeap[T]) headDist() T {
	if len(h.items) < h.k {
		return infinity[T]()
	}
	return h.items[0].dist
}

func (h *indexHeap[T]) insert(dist T, index int) {
	if len(h.items) < h.k {
		heap.Push(h, candidate[T]{dist: dist, index: index})
		return
	}
	if dist < h.items[0].dist {
		h.items[0] = candidate[T]{dist: dist, index: index}
		heap.Fix(h, 0)
	}
}

func (h *indexHeap[T]) indices(sorted bool, k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = invalidIndex
	}
	if sorted {
		// Popping a max-heap yields worst-first; fill back to front.
		for i := len(h.items) - 1; i >= 0; i-- {
			out[i] = heap.Pop(h).(candidate[T]).index
		}
		return out
	}
	for i, c := range h.items {
		out[i] = c.index
	}
	return out
}

func (h *indexHeap[T]) reset() { h.items = h.items[:0] }

// linearHeapMaxK is the largest k for which the sliding-midpoint searchers
// use the linear candidate vector instead of the binary heap.
const linearHeapMaxK = 16

// linearHeap keeps exactly k slots and replaces the worst one by rescanning
// on every accepted insert. O(k) per replacement, but branch-cheap and
// cache-resident for the small k typical of neighbourhood queries.
type linearHeap[T Scalar] struct {
	items []candidate[T]
	head  int // slot currently holding the worst entry
}

func newLinearHeap[T Scalar](k int) *linearHeap[T] {
	h := &linearHeap[T]{items: make([]candidate[T], k)}
	h.reset()
	return h
}

func (h *linearHeap[T]) reset() {
	inf := infinity[T]()
	for i := range h.items {
		h.items[i] = candidate[T]{dist: inf, index: invalidIndex}
	}
	h.head = 0
}

func (h *linearHeap[T]) headDist() T { return h.items[h.head].dist }

func (h *linearHeap[T]) insert(dist T, index int) {
	if dist >= h.items[h.head].dist {
		return
	}
	h.items[h.head] = candidate[T]{dist: dist, index: index}
	worst := 0
	for i := 1; i < len(h.items); i++ {
		if h.items[i].worse(h.items[worst]) {
			worst = i
		}
	}
	h.head = worst
}

func (h *linearHeap[T]) indices(sorted bool, k int) []int {
	// Unfilled slots keep dist = +Inf and sort to the back.
	items := h.items
	if sorted {
		items = make([]candidate[T], len(h.items))
		copy(items, h.items)
		sort.Slice(items, func(i, j int) bool { return items[j].worse(items[i]) })
	}
	out := make([]int, k)
	filled := 0
	for _, c := range items {
		if c.index == invalidIndex {
			continue
		}
		out[filled] = c.index
		filled++
	}
	for ; filled < k; filled++ {
		out[filled] = invalidIndex
	}
	return out
}
