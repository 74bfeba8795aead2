package profit

import "sync"

// History keeps a bounded profit series per algorithm. The switcher appends
// one sample per estimate cycle; the predictive strategy reads the series
// for trend extrapolation. Oldest samples are evicted beyond the cap.
type History struct {
	mu     sync.RWMutex
	cap    int
	series map[string][]float64
}

// NewHistory creates a history with the given per-algorithm capacity
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 120
	}
	return &History{
		cap:    capacity,
		series: make(map[string][]float64),
	}
}

// Append records one profit sample for an algorithm
func (h *History) Append(algorithm string, profit float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.series[algorithm], profit)
	if len(s) > h.cap {
		s = s[len(s)-h.cap:]
	}
	h.series[algorithm] = s
}

// Samples returns a copy of the series for an algorithm, oldest first
func (h *History) Samples(algorithm string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.series[algorithm]
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// Len returns the number of samples recorded for an algorithm
func (h *History) Len(algorithm string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[algorithm])
}
