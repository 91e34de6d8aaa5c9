package peak

import "math"

// history is a fixed-capacity FIFO of rate readings; the oldest reading is
// overwritten once full.
type history struct {
	data  []int
	index int // next write position
	size  int
}

func newHistory(capacity int) *history {
	return &history{data: make([]int, capacity)}
}

func (h *history) push(v int) {
	h.data[h.index] = v
	h.index = (h.index + 1) % len(h.data)
	if h.size < len(h.data) {
		h.size++
	}
}

// values returns the readings oldest first.
func (h *history) values() []int {
	out := make([]int, h.size)
	start := (h.index - h.size + len(h.data)) % len(h.data)
	for i := range out {
		out[i] = h.data[(start+i)%len(h.data)]
	}
	return out
}

// roundedMean is 0 when empty.
func (h *history) roundedMean() int {
	if h.size == 0 {
		return 0
	}
	sum := 0
	for _, v := range h.values() {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(h.size)))
}

func (h *history) clear() {
	h.index = 0
	h.size = 0
}
