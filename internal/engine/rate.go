package engine

import (
	"sync"
	"time"
)

// DefaultRateWindow is the span the smoothed coins/second is averaged over.
const DefaultRateWindow = 5 * time.Second

type rateSample struct {
	at    time.Time
	delta float64
}

// RateWindow smooths a delta stream into coins per second over a trailing
// window. Safe for concurrent use.
type RateWindow struct {
	Span time.Duration

	mu      sync.Mutex
	samples []rateSample
	rate    float64
}

// NewRateWindow creates a window; span <= 0 uses DefaultRateWindow.
func NewRateWindow(span time.Duration) *RateWindow {
	if span <= 0 {
		span = DefaultRateWindow
	}
	return &RateWindow{Span: span}
}

// Add records a delta observed at t and returns the updated rate:
// sum of deltas in the window divided by the window's span in seconds,
// never less than one second.
func (w *RateWindow) Add(t time.Time, delta float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, rateSample{at: t, delta: delta})
	cutoff := t.Add(-w.Span)
	drop := 0
	for drop < len(w.samples) && w.samples[drop].at.Before(cutoff) {
		drop++
	}
	w.samples = w.samples[drop:]

	sum := 0.0
	for _, s := range w.samples {
		sum += s.delta
	}
	span := t.Sub(w.samples[0].at).Seconds()
	w.rate = sum / max(1, span)
	return w.rate
}

// Rate returns the most recently computed coins per second.
func (w *RateWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rate
}

// Reset clears all samples.
func (w *RateWindow) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.rate = 0
	w.mu.Unlock()
}
