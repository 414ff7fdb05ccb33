package cusum

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	spc "github.com/sundaman/defect-warning-system"
)

func at(hours float64) time.Time {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(hours * float64(time.Hour)))
}

func ptr[T any](v T) *T { return &v }

func yieldConfig() spc.DetectorConfig {
	c := spc.DefaultConfig()
	c.Mu0 = 0.005
	c.BaseN = 1000
	c.MonitoringSide = spc.SideUpper
	return c
}

func TestColdStartNoDrift(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		dec := d.Update(0.005, 1000, at(float64(i)))
		assert.False(t, dec.Alert)
	}
	assert.Equal(t, 0.0, d.Last().SPlus)
}

func TestSingleUpperSpike(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		dec := d.Update(0.005, 1000, at(float64(i)))
		require.False(t, dec.Alert)
	}
	dec := d.Update(0.1, 1000, at(5))
	assert.True(t, dec.Alert)
	assert.Equal(t, spc.SideUpper, dec.AlertSide)
	assert.GreaterOrEqual(t, dec.SPlus, dec.Threshold)

	// Accumulators reset after the alert (no FIR configured).
	assert.Equal(t, 0.0, d.State().SPlus)
	assert.Equal(t, 0.0, d.State().SMinus)
}

func TestLowThroughputSkip(t *testing.T) {
	cfg := spc.DefaultConfig()
	cfg.Mu0 = 0.005
	cfg.BaseN = 500
	cfg.MonitoringSide = spc.SideUpper
	cfg.WindowSize = 2
	d, err := New(cfg)
	require.NoError(t, err)

	first := d.Update(0.01, 500, at(0))
	require.False(t, first.Alert)
	require.Empty(t, first.SkipReason)

	dec := d.Update(0.02, 50, at(1))
	assert.NotEmpty(t, dec.SkipReason)
	assert.False(t, dec.Alert)
	// Accumulators kept their values; the sample did not count.
	assert.Equal(t, first.SPlus, dec.SPlus)
	assert.Equal(t, first.TotalSamples, dec.TotalSamples)
	// The estimators did receive the point: the window filled and the
	// low-throughput sample was excluded from the recomputed baseline.
	assert.InDelta(t, 0.01, dec.Baseline, 1e-9)
}

func TestThresholdMultiplierLaw(t *testing.T) {
	cfg := yieldConfig()
	cfg.BaseN = 500
	cfg.PenaltyStrength = 0
	d, err := New(cfg)
	require.NoError(t, err)

	dec := d.Update(0.005, 500, at(0))
	assert.InDelta(t, 1.0, dec.Multiplier, 1e-9)

	dec = d.Update(0.005, 125, at(1))
	assert.InDelta(t, 2.0, dec.Multiplier, 1e-9)
}

func TestThresholdMultiplierPenalty(t *testing.T) {
	cfg := yieldConfig()
	cfg.BaseN = 500
	cfg.PenaltyStrength = 1.0
	d, err := New(cfg)
	require.NoError(t, err)

	// n = base_n/4 puts the ratio at half the minimum, so the penalty term
	// is sqrt(0.5/0.25 - 1) = 1 and the multiplier doubles again.
	dec := d.Update(0.005, 125, at(0))
	assert.InDelta(t, 4.0, dec.Multiplier, 1e-9)
}

func TestDegenerateDispersion(t *testing.T) {
	cfg := yieldConfig()
	cfg.Mu0 = 0
	d, err := New(cfg)
	require.NoError(t, err)

	dec := d.Update(1.0, 1000, at(0))
	assert.Equal(t, 1.0, dec.Multiplier)
	assert.Equal(t, d.BaseH(), dec.Threshold)
	assert.InDelta(t, 1.0-cfg.MinK, dec.SPlus, 1e-9)
}

func TestParameterLowerAlert(t *testing.T) {
	cfg := spc.DefaultConfig()
	cfg.ItemType = spc.ItemTypeParameter
	cfg.MonitoringSide = spc.SideBoth
	cfg.Mu0 = 10
	cfg.BaseN = 500
	d, err := New(cfg)
	require.NoError(t, err)

	dec := d.Update(5, 500, at(0))
	assert.True(t, dec.Alert)
	assert.Equal(t, spc.SideLower, dec.AlertSide)
	assert.Equal(t, 0.0, dec.SPlus)
	assert.GreaterOrEqual(t, dec.SMinus, dec.Threshold)
}

func TestFIRSeedAndExpiry(t *testing.T) {
	cfg := yieldConfig()
	cfg.UseFIR = true
	cfg.FIRRatio = 0.3
	cfg.FIRDuration = 2
	d, err := New(cfg)
	require.NoError(t, err)

	dec := d.Update(0.1, 1000, at(0))
	require.True(t, dec.Alert)
	assert.InDelta(t, d.BaseH()*0.3, d.State().SPlus, 1e-9)

	dec = d.Update(0.005, 1000, at(1))
	assert.True(t, dec.FIRActive)
	dec = d.Update(0.005, 1000, at(2))
	assert.True(t, dec.FIRActive)
	dec = d.Update(0.005, 1000, at(3))
	assert.False(t, dec.FIRActive)
}

func TestEWMABaselineOverlay(t *testing.T) {
	cfg := yieldConfig()
	cfg.UseEWMA = true
	cfg.EwmaLambda = 0.2
	d, err := New(cfg)
	require.NoError(t, err)

	dec := d.Update(0.01, 1000, at(0))
	assert.InDelta(t, 0.2*0.01+0.8*0.005, dec.Baseline, 1e-9)
}

func TestUpperOnlyInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d, err := New(yieldConfig())
		require.NoError(t, err)
		steps := rapid.IntRange(1, 100).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			value := rapid.Float64Range(0, 0.05).Draw(t, "value")
			n := rapid.IntRange(1, 3000).Draw(t, "n")
			dec := d.Update(value, n, at(float64(i)))
			assert.GreaterOrEqual(t, dec.SPlus, 0.0)
			assert.Equal(t, 0.0, dec.SMinus)
		}
	})
}

func TestReplayIsDeterministic(t *testing.T) {
	cfg := yieldConfig()
	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		value := 0.005 + 0.0001*float64(i%17)
		n := 400 + 100*(i%7)
		da := a.Update(value, n, at(float64(i)))
		db := b.Update(value, n, at(float64(i)))
		require.Equal(t, da, db)
	}
}

func TestReconfigureRaisesThreshold(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)

	first := d.Update(0.005, 1000, at(0))
	h1 := first.Threshold

	d.Reconfigure(Tuning{TargetARL0: ptr(1000.0)})
	second := d.Update(0.005, 1000, at(1))
	assert.Greater(t, second.Threshold, h1)
	assert.InDelta(t, 2*math.Log(1000), d.BaseH(), 1e-9)
}

func TestReconfigureKeepsAccumulators(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)

	d.Update(0.008, 1000, at(0))
	before := d.State().SPlus
	require.Greater(t, before, 0.0)

	d.Reconfigure(Tuning{TargetShiftSigma: ptr(2.0)})
	assert.Equal(t, before, d.State().SPlus)
}

func TestStateRoundTrip(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		d.Update(0.0075, 1000, at(float64(i)))
	}
	st := d.State()
	require.Greater(t, st.SPlus, 0.0)

	restored, err := New(yieldConfig())
	require.NoError(t, err)
	restored.SetState(st)

	got := restored.State()
	assert.Equal(t, st.SPlus, got.SPlus)
	assert.Equal(t, st.SMinus, got.SMinus)
	assert.Equal(t, st.Baseline, got.Baseline)
	assert.Equal(t, st.K, got.K)
}

func TestSetStateClampsNegativeAccumulators(t *testing.T) {
	d, err := New(yieldConfig())
	require.NoError(t, err)
	d.SetState(spc.DetectorState{SPlus: -1, SMinus: -2})
	st := d.State()
	assert.Equal(t, 0.0, st.SPlus)
	assert.Equal(t, 0.0, st.SMinus)
}
