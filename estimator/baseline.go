package estimator

import (
	"math"
	"time"
)

// Baseline maintains an adaptive mean of the monitored value over a rolling
// window, recomputed at most once per update interval and clipped by a step
// limiter so one spike cannot drag the baseline.
//
// This type is not concurrency safe and must be guarded externally.
type Baseline struct {
	win            *window
	updateInterval time.Duration
	maxChangeRatio float64

	// Mutable state
	lastUpdate time.Time
	current    float64
	has        bool
}

// NewBaseline creates a Baseline for the windowing config.
func NewBaseline(cfg Config) *Baseline {
	return &Baseline{
		win:            newWindow(cfg),
		updateInterval: cfg.UpdateInterval,
		maxChangeRatio: cfg.MaxChangeRatio,
	}
}

// Add appends a sample to the window and recomputes the baseline when the
// window is full and the update interval has elapsed since the last
// recomputation, both measured by sample timestamps.
func (b *Baseline) Add(ts time.Time, value, n float64, isAlert bool) {
	b.win.add(ts, value, n, isAlert)
	if b.shouldUpdate(ts) {
		b.recompute(ts)
	}
}

// MarkLastAlert flags the most recent sample as alerted after the detector
// has decided, excluding the anomaly's neighborhood from future updates.
func (b *Baseline) MarkLastAlert() {
	b.win.markLastAlert()
}

// Get returns the current baseline, reporting false until the first
// recomputation has produced one.
func (b *Baseline) Get() (float64, bool) {
	return b.current, b.has
}

func (b *Baseline) shouldUpdate(ts time.Time) bool {
	if b.lastUpdate.IsZero() {
		return b.win.full()
	}
	return ts.Sub(b.lastUpdate) >= b.updateInterval
}

func (b *Baseline) recompute(ts time.Time) {
	valid := b.win.validValues()
	if len(valid) == 0 {
		return
	}
	next := mean(valid)
	if b.has {
		next = b.clip(next)
	}
	b.current = next
	b.has = true
	b.lastUpdate = ts
}

// clip caps the absolute change at maxChangeRatio of the current value. A
// zero current value passes the new estimate through unclamped; a relative
// cap around zero would freeze the baseline forever.
func (b *Baseline) clip(next float64) float64 {
	if b.current == 0 {
		return next
	}
	maxChange := math.Abs(b.current) * b.maxChangeRatio
	change := next - b.current
	if math.Abs(change) > maxChange {
		if change > 0 {
			return b.current + maxChange
		}
		return b.current - maxChange
	}
	return next
}
