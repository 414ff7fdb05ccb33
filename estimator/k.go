package estimator

import (
	"math"
	"time"
)

// Mode selects how the reference value is derived from the windowed
// dispersion estimate.
type Mode int

const (
	// ModeARL derives k from the target shift: k = (delta/2) * sigma.
	ModeARL Mode = iota
	// ModeTraditional uses the classic k = 4 * sigma rule.
	ModeTraditional
)

// K maintains the CUSUM reference value from the windowed dispersion of valid
// samples. Windowing, invalid-index rules, update cadence, and step limiting
// match Baseline.
//
// This type is not concurrency safe and must be guarded externally.
type K struct {
	win              *window
	updateInterval   time.Duration
	maxChangeRatio   float64
	minK             float64
	mode             Mode
	targetShiftSigma float64

	// Mutable state
	lastUpdate time.Time
	currentK   float64
	hasK       bool
	lastStd    float64
	hasStd     bool
}

// NewK creates a K estimator. targetShiftSigma is only consulted in ModeARL.
func NewK(cfg Config, minK, targetShiftSigma float64, mode Mode) *K {
	return &K{
		win:              newWindow(cfg),
		updateInterval:   cfg.UpdateInterval,
		maxChangeRatio:   cfg.MaxChangeRatio,
		minK:             minK,
		mode:             mode,
		targetShiftSigma: targetShiftSigma,
	}
}

// Add appends a sample and recomputes k when due, mirroring Baseline.Add.
func (k *K) Add(ts time.Time, value, n float64, isAlert bool) {
	k.win.add(ts, value, n, isAlert)
	if k.shouldUpdate(ts) {
		k.recompute(ts)
	}
}

// MarkLastAlert flags the most recent sample as alerted.
func (k *K) MarkLastAlert() {
	k.win.markLastAlert()
}

// K returns the current reference value, reporting false until the first
// recomputation.
func (k *K) K() (float64, bool) {
	return k.currentK, k.hasK
}

// Std returns the most recently computed dispersion estimate, used by the
// detector for standardization of parameter-type values.
func (k *K) Std() (float64, bool) {
	return k.lastStd, k.hasStd
}

// Seed restores the last dispersion estimate and reference value from a
// checkpoint, so standardization survives a restart while the window rewarms.
func (k *K) Seed(std, value float64) {
	if std > 0 {
		k.lastStd = std
		k.hasStd = true
	}
	if value > 0 {
		k.currentK = math.Max(value, k.minK)
		k.hasK = true
	}
}

func (k *K) shouldUpdate(ts time.Time) bool {
	if k.lastUpdate.IsZero() {
		return k.win.full()
	}
	return ts.Sub(k.lastUpdate) >= k.updateInterval
}

func (k *K) recompute(ts time.Time) {
	valid := k.win.validValues()
	if len(valid) == 0 {
		return
	}
	std := stddev(valid)

	var next float64
	switch k.mode {
	case ModeTraditional:
		next = 4.0 * std
	default:
		next = k.targetShiftSigma / 2.0 * std
	}
	next = math.Max(next, k.minK)

	if k.hasK {
		maxChange := k.currentK * k.maxChangeRatio
		change := next - k.currentK
		if math.Abs(change) > maxChange {
			if change > 0 {
				next = k.currentK + maxChange
			} else {
				next = k.currentK - maxChange
			}
		}
		next = math.Max(next, k.minK)
	}

	k.currentK = next
	k.hasK = true
	k.lastStd = std
	k.hasStd = true
	k.lastUpdate = ts
}
