package base

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := newBackoff(100, 1000)

	// Expected delays before jitter: 100, 200, 400, 800, 1000, 1000, ...
	expected := []int{100, 200, 400, 800, 1000, 1000}
	for i, ms := range expected {
		delay := b.next()
		lower := time.Duration(float64(ms)*0.9) * time.Millisecond
		upper := time.Duration(float64(ms)*1.1) * time.Millisecond
		if delay < lower || delay > upper {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", i, delay, lower, upper)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(100, 1000)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()

	delay := b.next()
	if delay > 110*time.Millisecond {
		t.Errorf("delay after reset is %v, expected roughly the base delay", delay)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := newBackoff(0, 0)
	if b.baseMs != defaultBackoffBaseMs || b.maxMs != defaultBackoffMaxMs {
		t.Errorf("got base=%d max=%d, expected the defaults", b.baseMs, b.maxMs)
	}
}
