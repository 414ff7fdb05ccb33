package arl

import "math"

// Precomputed in-control ARL values from the NIST/SEMATECH e-Handbook of
// Statistical Methods (section 6.3.2.3.1), used to refine the closed-form
// approximation at common reference values. Entries are (h, ARL0) pairs with
// h ascending.
type arlTable struct {
	k   float64
	h   []float64
	arl []float64
}

var tables = []arlTable{
	{
		k:   0.25,
		h:   []float64{3.0, 3.5, 4.0, 4.5, 5.0, 5.5},
		arl: []float64{10.0, 25.0, 93.7, 220.0, 157.4, 350.0},
	},
	{
		k:   0.5,
		h:   []float64{3.0, 3.5, 4.0, 4.5, 5.0, 5.5},
		arl: []float64{30.0, 80.0, 370.4, 1000.0, 629.5, 2500.0},
	},
	{
		k:   0.75,
		h:   []float64{3.5, 4.0, 4.5, 5.0},
		arl: []float64{150.0, 400.0, 1000.0, 2000.0},
	},
}

func tableFor(k float64) *arlTable {
	for i := range tables {
		if math.Abs(k-tables[i].k) < 0.01 {
			return &tables[i]
		}
	}
	return nil
}

// arl0For interpolates the in-control ARL for a threshold h. Thresholds
// outside the tabulated range clamp to the nearest entry.
func (t *arlTable) arl0For(h float64) float64 {
	if h <= t.h[0] {
		return t.arl[0]
	}
	if h >= t.h[len(t.h)-1] {
		return t.arl[len(t.arl)-1]
	}
	for i := 0; i < len(t.h)-1; i++ {
		if t.h[i] <= h && h <= t.h[i+1] {
			frac := (h - t.h[i]) / (t.h[i+1] - t.h[i])
			return t.arl[i] + (t.arl[i+1]-t.arl[i])*frac
		}
	}
	return ARL0(t.k, h)
}

// hFor inverts the table: the threshold achieving targetARL0, by linear
// interpolation between the bracketing entries.
func (t *arlTable) hFor(targetARL0 float64) float64 {
	for i := 0; i < len(t.h)-1; i++ {
		lo, hi := t.arl[i], t.arl[i+1]
		if (lo <= targetARL0 && targetARL0 <= hi) || (hi <= targetARL0 && targetARL0 <= lo) {
			frac := (targetARL0 - lo) / (hi - lo)
			return t.h[i] + (t.h[i+1]-t.h[i])*frac
		}
	}
	if targetARL0 <= t.arl[0] {
		return t.h[0]
	}
	return t.h[len(t.h)-1]
}
