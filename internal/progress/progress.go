// Package progress tracks a monotonically increasing completion fraction
// shared between a running pipeline and whoever reports on it.
package progress

import (
	"math"
	"sync"
	"time"
)

// Func receives a completion fraction in [0, 1] and a short message.
type Func func(fraction float64, message string)

// Tracker records the highest fraction reported so far. Reports lower than
// the current value are clamped, so observers never see progress go back.
// A Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	last     float64
	message  string
	updated  time.Time
	observer Func
}

// NewTracker creates a tracker that forwards every report to observer,
// which may be nil.
func NewTracker(observer Func) *Tracker {
	return &Tracker{observer: observer, updated: time.Now()}
}

// Report records fraction and notifies the observer with the clamped value.
func (t *Tracker) Report(fraction float64, message string) {
	t.mu.Lock()
	fraction = clamp(fraction)
	if fraction < t.last {
		fraction = t.last
	}
	t.last = fraction
	if message != "" {
		t.message = message
	}
	t.updated = time.Now()
	observer, msg := t.observer, t.message
	t.mu.Unlock()

	if observer != nil {
		observer(fraction, msg)
	}
}

// Last returns the current fraction and message.
func (t *Tracker) Last() (float64, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.message
}

// Since returns the time elapsed since the last report.
func (t *Tracker) Since() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.updated)
}

// Stage returns a Func that maps a stage-local fraction onto [from, to] of
// the tracker's range.
func (t *Tracker) Stage(from, to float64) Func {
	return func(fraction float64, message string) {
		t.Report(from+(to-from)*clamp(fraction), message)
	}
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
