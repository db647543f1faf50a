package signal

import (
	"sync"
	"time"
)

type sample struct {
	score float64
	at    time.Time
}

// History keeps a bounded, time-windowed sentiment series per symbol so
// the generator can compute sentiment velocity.
type History struct {
	mu         sync.Mutex
	window     time.Duration
	maxSamples int
	data       map[string][]sample
}

// NewHistory builds a history retaining samples inside window, at most
// maxSamples per symbol.
func NewHistory(window time.Duration, maxSamples int) *History {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if maxSamples <= 0 {
		maxSamples = 100
	}
	return &History{
		window:     window,
		maxSamples: maxSamples,
		data:       make(map[string][]sample),
	}
}

// Add records one sentiment observation and prunes expired samples.
func (h *History) Add(symbol string, score float64, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.data[symbol], sample{score: score, at: at})
	cutoff := at.Add(-h.window)
	start := 0
	for start < len(s) && s[start].at.Before(cutoff) {
		start++
	}
	s = s[start:]
	if len(s) > h.maxSamples {
		s = s[len(s)-h.maxSamples:]
	}
	h.data[symbol] = s
}

// Velocity returns the per-minute slope between the oldest and newest
// in-window samples. ok is false with fewer than two samples.
func (h *History) Velocity(symbol string, now time.Time) (perMin float64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.data[symbol]
	cutoff := now.Add(-h.window)
	start := 0
	for start < len(s) && s[start].at.Before(cutoff) {
		start++
	}
	s = s[start:]
	if len(s) < 2 {
		return 0, false
	}

	oldest, newest := s[0], s[len(s)-1]
	dt := newest.at.Sub(oldest.at)
	if dt < time.Second {
		dt = time.Second // floor to avoid exploding slopes on bursts
	}
	return (newest.score - oldest.score) / dt.Minutes(), true
}

// Len returns the number of retained samples for a symbol.
func (h *History) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data[symbol])
}
