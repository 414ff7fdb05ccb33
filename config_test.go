package spc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Normalized().Validate())
}

func TestNormalizedSideFollowsItemType(t *testing.T) {
	c := DefaultConfig()
	c.ItemType = ItemTypeYield
	assert.Equal(t, SideUpper, c.Normalized().MonitoringSide)

	c.ItemType = ItemTypeParameter
	assert.Equal(t, SideBoth, c.Normalized().MonitoringSide)

	c.MonitoringSide = SideLower
	assert.Equal(t, SideLower, c.Normalized().MonitoringSide)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DetectorConfig)
	}{
		{"zero base_n", func(c *DetectorConfig) { c.BaseN = 0 }},
		{"zero shift", func(c *DetectorConfig) { c.TargetShiftSigma = 0 }},
		{"arl0 below one", func(c *DetectorConfig) { c.TargetARL0 = 0.5 }},
		{"negative penalty", func(c *DetectorConfig) { c.PenaltyStrength = -1 }},
		{"penalty above bound", func(c *DetectorConfig) { c.PenaltyStrength = MaxPenaltyStrength + 1 }},
		{"zero window", func(c *DetectorConfig) { c.WindowSize = 0 }},
		{"bad side", func(c *DetectorConfig) { c.MonitoringSide = "sideways" }},
		{"bad item type", func(c *DetectorConfig) { c.ItemType = "widget" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig().Normalized()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestPatchApply(t *testing.T) {
	base := DefaultConfig()
	patch := ConfigPatch{
		Mu0:        ptr(0.01),
		TargetARL0: ptr(1000.0),
		UseFIR:     ptr(true),
	}
	got := patch.Apply(base)
	assert.Equal(t, 0.01, got.Mu0)
	assert.Equal(t, 1000.0, got.TargetARL0)
	assert.True(t, got.UseFIR)
	// Unset fields keep the base values.
	assert.Equal(t, base.BaseN, got.BaseN)
	assert.Equal(t, base.TargetShiftSigma, got.TargetShiftSigma)
}

func TestPatchMergeAccumulates(t *testing.T) {
	stored := ConfigPatch{Mu0: ptr(0.01), CooldownPeriods: ptr(3)}
	update := ConfigPatch{Mu0: ptr(0.02), TargetARL0: ptr(500.0)}

	merged := update.Merge(stored)
	require.NotNil(t, merged.Mu0)
	assert.Equal(t, 0.02, *merged.Mu0)
	require.NotNil(t, merged.CooldownPeriods)
	assert.Equal(t, 3, *merged.CooldownPeriods)
	require.NotNil(t, merged.TargetARL0)
	assert.Equal(t, 500.0, *merged.TargetARL0)
}

func TestPatchIsZero(t *testing.T) {
	assert.True(t, ConfigPatch{}.IsZero())
	assert.False(t, ConfigPatch{Mu0: ptr(0.1)}.IsZero())
}
