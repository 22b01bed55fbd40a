package vectorstore

import "container/heap"

// scoredItem is one candidate in the top-K min-heap: the heap root always
// holds the worst-scoring survivor, so a new candidate only has to beat
// heap[0] to earn a place.
type scoredItem struct {
	id     int64
	score  float64
	record *Record
}

// minHeap orders scoredItem by ascending score, matching the pattern the
// pack's vector-store example builds its per-worker and merged top-K heaps
// on (container/heap.Interface over a score-ordered slice).
type minHeap []scoredItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(scoredItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topKCollector bounds a stream of scored candidates to the K best, sorted
// best-score-first once Drain is called.
type topKCollector struct {
	k int
	h minHeap
}

func newTopKCollector(k int) *topKCollector {
	return &topKCollector{k: k, h: make(minHeap, 0, k)}
}

func (c *topKCollector) Offer(item scoredItem) {
	if c.k <= 0 {
		return
	}
	if len(c.h) < c.k {
		heap.Push(&c.h, item)
		return
	}
	if item.score > c.h[0].score {
		c.h[0] = item
		heap.Fix(&c.h, 0)
	}
}

// Drain empties the heap into a best-score-first slice.
func (c *topKCollector) Drain() []scoredItem {
	n := len(c.h)
	out := make([]scoredItem, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&c.h).(scoredItem)
	}
	return out
}
