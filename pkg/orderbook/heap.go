package orderbook

// maxPriceHeap and minPriceHeap give O(1) best-price peek for the bid and
// ask sides respectively, via container/heap — adapted from the teacher's
// pkg/app/core/orderbook/heap.go, generalized from int64 ticks to the
// spec's unsigned scaled-integer prices.
type maxPriceHeap []uint64

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x any) {
	*h = append(*h, x.(uint64))
}

func (h *maxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h maxPriceHeap) Peek() (uint64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

type minPriceHeap []uint64

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x any) {
	*h = append(*h, x.(uint64))
}

func (h *minPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h minPriceHeap) Peek() (uint64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}
