// Package estimator provides the windowed estimators that adapt a detector's
// baseline and reference value to recent data: a rolling sample window with
// known-bad point exclusion, a robust mean, and a robust dispersion estimate.
package estimator

import (
	"math"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// Config carries the windowing knobs shared by the baseline and dispersion
// estimators.
type Config struct {
	WindowSize        int
	InvalidRadius     int
	UpdateInterval    time.Duration
	MaxChangeRatio    float64
	BaseN             float64
	MinDetectionRatio float64
}

type point struct {
	ts    time.Time
	value float64
	n     float64
}

// window is a fixed-capacity ordered sequence of recent samples with marks
// for known-bad points: alerted samples and low-throughput samples. Marks
// shift with the window on eviction.
//
// This type is not concurrency safe and must be guarded externally.
type window struct {
	capacity      int
	invalidRadius int
	baseN         float64
	minRatio      float64

	points []point
	alerts *bitset.BitSet
	lowN   *bitset.BitSet
}

func newWindow(cfg Config) *window {
	return &window{
		capacity:      cfg.WindowSize,
		invalidRadius: cfg.InvalidRadius,
		baseN:         cfg.BaseN,
		minRatio:      cfg.MinDetectionRatio,
		points:        make([]point, 0, cfg.WindowSize),
		alerts:        bitset.New(uint(cfg.WindowSize)),
		lowN:          bitset.New(uint(cfg.WindowSize)),
	}
}

func (w *window) add(ts time.Time, value, n float64, isAlert bool) {
	if len(w.points) == w.capacity {
		copy(w.points, w.points[1:])
		w.points = w.points[:len(w.points)-1]
		// DeleteAt shifts higher marks down, keeping them aligned with the
		// shifted points.
		w.alerts.DeleteAt(0)
		w.lowN.DeleteAt(0)
	}
	idx := uint(len(w.points))
	w.points = append(w.points, point{ts: ts, value: value, n: n})
	w.alerts.SetTo(idx, isAlert)
	w.lowN.SetTo(idx, n < w.baseN*w.minRatio)
}

func (w *window) full() bool {
	return len(w.points) == w.capacity
}

// markLastAlert flags the most recently added sample as alerted, so that the
// anomaly and its neighborhood are excluded from future recomputations.
func (w *window) markLastAlert() {
	if len(w.points) > 0 {
		w.alerts.Set(uint(len(w.points) - 1))
	}
}

// invalid returns the set of indices excluded from estimation: every
// low-throughput index, plus the neighborhood of each alerted index.
func (w *window) invalid() *bitset.BitSet {
	inv := w.lowN.Clone()
	for i, ok := w.alerts.NextSet(0); ok && int(i) < len(w.points); i, ok = w.alerts.NextSet(i + 1) {
		start := int(i) - w.invalidRadius
		if start < 0 {
			start = 0
		}
		end := int(i) + w.invalidRadius
		if end > len(w.points)-1 {
			end = len(w.points) - 1
		}
		for j := start; j <= end; j++ {
			inv.Set(uint(j))
		}
	}
	return inv
}

// validValues returns the values at indices not marked invalid.
func (w *window) validValues() []float64 {
	inv := w.invalid()
	out := make([]float64, 0, len(w.points))
	for i, p := range w.points {
		if !inv.Test(uint(i)) {
			out = append(out, p.value)
		}
	}
	return out
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
