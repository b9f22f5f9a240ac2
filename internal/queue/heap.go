package queue

// requestHeap implements heap.Interface over pending requests.
// Ordering: higher priority first; within a priority, submission order.
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds a request. Called by heap.Push — do not call directly.
func (h *requestHeap) Push(x any) {
	r := x.(*Request)
	r.index = len(*h)
	*h = append(*h, r)
}

// Pop removes and returns the best request. Called by heap.Pop — do not call directly.
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil // avoid memory leak
	r.index = -1
	*h = old[:n-1]
	return r
}
