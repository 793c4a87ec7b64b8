package scheduler

import "container/heap"

// completion is one finished job: its index (for ordering) and the spill
// file holding its verified bytes.
type completion struct {
	index     int
	spillPath string
}

// completionHeap is a container/heap.Interface min-heap keyed by piece
// index, guarding against out-of-order verification completing before an
// earlier piece.
type completionHeap []completion

func (h completionHeap) Len() int            { return len(h) }
func (h completionHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h completionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *completionHeap) Push(x interface{}) { *h = append(*h, x.(completion)) }
func (h *completionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CompletionSink is the mutex-free wrapper scheduler uses internally; the
// scheduler itself guards pushes with its own mutex since several workers
// push concurrently. The final drain runs after every worker has exited.
type CompletionSink struct {
	h completionHeap
}

// NewCompletionSink returns an empty sink.
func NewCompletionSink() *CompletionSink {
	s := &CompletionSink{}
	heap.Init(&s.h)
	return s
}

// Push records a verified piece's spill file.
func (s *CompletionSink) Push(index int, spillPath string) {
	heap.Push(&s.h, completion{index: index, spillPath: spillPath})
}

// DrainAscending pops every recorded completion in ascending index order.
func (s *CompletionSink) DrainAscending() []completion {
	out := make([]completion, 0, s.h.Len())
	for s.h.Len() > 0 {
		out = append(out, heap.Pop(&s.h).(completion))
	}
	return out
}
