package base

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBaseMs = 50
	defaultBackoffMaxMs  = 5000
)

// backoff produces capped exponential delays with a small random jitter
// (+-10%) so that many clients losing the same server do not retry in
// lockstep.
type backoff struct {
	baseMs    int
	maxMs     int
	currentMs int
}

// newBackoff creates a backoff starting at baseMs and capped at maxMs.
// Non-positive values fall back to the defaults.
func newBackoff(baseMs, maxMs int) *backoff {
	if baseMs <= 0 {
		baseMs = defaultBackoffBaseMs
	}
	if maxMs <= 0 {
		maxMs = defaultBackoffMaxMs
	}
	return &backoff{baseMs: baseMs, maxMs: maxMs, currentMs: baseMs}
}

// next returns the delay to wait before the upcoming attempt and advances
// the schedule.
func (b *backoff) next() time.Duration {
	// Exponential backoff with a small random jitter (+-10%)
	jitter := float64(b.currentMs) * (0.9 + 0.2*rand.Float64())
	delay := time.Duration(jitter) * time.Millisecond

	b.currentMs *= 2
	if b.currentMs > b.maxMs {
		b.currentMs = b.maxMs
	}
	return delay
}

// reset restarts the schedule after a successful attempt.
func (b *backoff) reset() {
	b.currentMs = b.baseMs
}
