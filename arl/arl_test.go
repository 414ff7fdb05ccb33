package arl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBaseH(t *testing.T) {
	// h = (2/delta^2) * ln(arl0)
	assert.InDelta(t, 2*math.Log(250), BaseH(1.0, 250), 1e-9)
	assert.InDelta(t, 0.5*math.Log(250), BaseH(2.0, 250), 1e-9)
}

func TestBaseHDegenerateShift(t *testing.T) {
	assert.Equal(t, DefaultH, BaseH(0, 250))
	assert.Equal(t, DefaultH, BaseH(-1, 250))
}

func TestBaseHMonotoneInARL0(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		delta := rapid.Float64Range(0.1, 5).Draw(t, "delta")
		a := rapid.Float64Range(10, 10000).Draw(t, "a")
		b := rapid.Float64Range(10, 10000).Draw(t, "b")
		if a == b {
			return
		}
		lo, hi := math.Min(a, b), math.Max(a, b)
		assert.Less(t, BaseH(delta, lo), BaseH(delta, hi))
	})
}

func TestBaseHMonotoneInShift(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		arl0 := rapid.Float64Range(10, 10000).Draw(t, "arl0")
		a := rapid.Float64Range(0.1, 5).Draw(t, "a")
		b := rapid.Float64Range(0.1, 5).Draw(t, "b")
		if a == b {
			return
		}
		lo, hi := math.Min(a, b), math.Max(a, b)
		assert.Greater(t, BaseH(lo, arl0), BaseH(hi, arl0))
	})
}

func TestARL0Siegmund(t *testing.T) {
	k, h := 0.5, 4.0
	want := math.Exp(2*k*(h-k)) / (2 * k * (h - k))
	assert.InDelta(t, want, ARL0(k, h), 1e-9)
}

func TestARLInControlDegenerate(t *testing.T) {
	assert.Equal(t, 10000.0, ARL(0.5, 0.5, 0))
}

func TestARLAtShiftNearK(t *testing.T) {
	k, h := 0.5, 4.0
	want := 2 * (h - k + 1/(2*k))
	assert.InDelta(t, want, ARL(k, h, k), 1e-9)
}

func TestFindHUsesTableAtCommonK(t *testing.T) {
	// 370.4 is tabulated exactly at h=4.0 for k=0.5.
	assert.InDelta(t, 4.0, FindH(0.5, 370.4), 1e-9)
}

func TestFindHBisectionOffTable(t *testing.T) {
	k := 0.6
	h := FindH(k, 500)
	assert.Greater(t, h, 1.0)
	assert.Less(t, h, 10.0)
	assert.InDelta(t, 500, ARL0(k, h), 500*0.01)
}

func TestDesign(t *testing.T) {
	p := Design(1.0, 370.4)
	assert.Equal(t, 0.5, p.K)
	assert.InDelta(t, 4.0, p.H, 1e-9)
	assert.Greater(t, p.ARL0, p.ARL1)
	assert.Greater(t, p.ARLRatio, 1.0)
}
