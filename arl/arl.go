// Package arl derives CUSUM design parameters from Average Run Length
// targets: the reference value k and the decision threshold h that achieve a
// desired in-control ARL for a given minimum detectable shift.
package arl

import "math"

// DefaultH is the threshold used when the target shift is degenerate.
const DefaultH = 11.04

// Params is a designed CUSUM parameter set with its predicted performance.
type Params struct {
	K        float64 // reference value, sigma units
	H        float64 // decision threshold, sigma units
	ARL0     float64 // predicted in-control ARL
	ARL1     float64 // predicted ARL at the target shift
	ARLRatio float64 // ARL0 / ARL1
}

// BaseH is the fast-path threshold derivation h = (2/delta^2)*ln(arl0), used
// for recomputation on every tuning change. It is strictly increasing in arl0
// and strictly decreasing in delta. A non-positive delta yields DefaultH.
func BaseH(delta, arl0 float64) float64 {
	if delta <= 0 {
		return DefaultH
	}
	return 2.0 / (delta * delta) * math.Log(arl0)
}

// ARL0 approximates the in-control average run length for a one-sided CUSUM
// with reference value k and threshold h, via the Siegmund closed form
// ARL0 ~= exp(2k(h-k)) / (2k(h-k)).
func ARL0(k, h float64) float64 {
	return ARL(k, h, 0)
}

// ARL approximates the average run length under a mean shift of delta sigma.
// Delta zero gives the in-control ARL.
func ARL(k, h, delta float64) float64 {
	const eps = 0.001
	if math.Abs(delta) > eps {
		if math.Abs(delta-k) < eps {
			// Limit case delta -> k.
			return 2.0 * (h - k + 1.0/(2.0*k))
		}
		num := math.Exp(2.0*k*(h-k)) - 1.0
		den := 2.0 * k * (delta - k)
		return math.Abs(num / den)
	}
	if math.Abs(h-k) < eps {
		return 10000.0
	}
	return math.Exp(2.0*k*(h-k)) / (2.0 * k * (h - k))
}

// FindH returns the smallest threshold whose predicted in-control ARL meets
// targetARL0 for the reference value k. Tabulated values are preferred where
// available; otherwise a bisection over the closed-form approximation is used.
func FindH(k, targetARL0 float64) float64 {
	if t := tableFor(k); t != nil {
		return t.hFor(targetARL0)
	}
	low, high := 1.0, 10.0
	for i := 0; i < 50; i++ {
		mid := (low + high) / 2
		if ARL0(k, mid) > targetARL0 {
			high = mid
		} else {
			low = mid
		}
	}
	return (low + high) / 2
}

// Design derives a full parameter set for a target minimum shift (sigma
// units) and in-control ARL. The reference value is half the target shift.
func Design(targetShiftSigma, targetARL0 float64) Params {
	k := targetShiftSigma / 2.0
	h := FindH(k, targetARL0)

	arl0 := ARL0(k, h)
	if t := tableFor(k); t != nil {
		arl0 = t.arl0For(h)
	}
	arl1 := ARL(k, h, targetShiftSigma)

	ratio := math.Inf(1)
	if arl1 > 0 {
		ratio = arl0 / arl1
	}
	return Params{K: k, H: h, ARL0: arl0, ARL1: arl1, ARLRatio: ratio}
}
