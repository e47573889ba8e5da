package drc

import (
	"sync"
	"time"
)

// FrequencyWindow estimates the arrival rate of a message stream over a
// short sliding window. At 100Hz a 2 second window holds around 200
// samples, which smooths network jitter well.
type FrequencyWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []time.Time
}

// NewFrequencyWindow creates a window covering the given span.
func NewFrequencyWindow(span time.Duration) *FrequencyWindow {
	return &FrequencyWindow{span: span}
}

// Record adds an arrival at time t and evicts samples older than the span.
func (w *FrequencyWindow) Record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, t)
	w.evict(t)
}

// Rate returns the arrival rate in Hz as seen from now. Fewer than two
// samples, or samples with no time spread, yield zero.
func (w *FrequencyWindow) Rate(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)

	n := len(w.samples)
	if n < 2 {
		return 0
	}

	span := w.samples[n-1].Sub(w.samples[0])
	if span <= 0 {
		return 0
	}

	return float64(n-1) / span.Seconds()
}

// evict drops samples older than the window. Callers must hold the lock.
func (w *FrequencyWindow) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
