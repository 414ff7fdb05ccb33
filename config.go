package spc

import "fmt"

// MaxPenaltyStrength bounds the low-throughput penalty coefficient.
const MaxPenaltyStrength = 2.0

// DetectorConfig is the full, resolved per-detector configuration. Values are
// captured at detector construction time; later changes to global defaults do
// not affect existing detectors.
type DetectorConfig struct {
	Mu0              float64  `json:"mu0"`
	BaseN            float64  `json:"base_n"`
	TargetShiftSigma float64  `json:"target_shift_sigma"`
	TargetARL0       float64  `json:"target_arl0"`
	MonitoringSide   Side     `json:"monitoring_side"`
	PenaltyStrength  float64  `json:"penalty_strength"`
	CooldownPeriods  int      `json:"cooldown_periods"`
	EnableCooldown   bool     `json:"enable_cooldown"`
	ItemType         ItemType `json:"item_type"`

	UseFIR      bool    `json:"use_fir"`
	FIRRatio    float64 `json:"fir_ratio"`
	FIRDuration int     `json:"fir_duration"`

	UseEWMA    bool    `json:"use_ewma"`
	EwmaLambda float64 `json:"ewma_lambda"`

	WindowSize          int     `json:"window_size"`
	UpdateIntervalHours float64 `json:"update_interval_hours"`
	MaxChangeRatio      float64 `json:"max_change_ratio"`
	InvalidRadius       int     `json:"invalid_radius"`

	MinDetectionRatio float64 `json:"min_detection_ratio"`
	MinNRatio         float64 `json:"min_n_ratio"`
	MinK              float64 `json:"min_k"`
}

// DefaultConfig returns the immutable baseline defaults. The manager layers
// global and per-key patches on top of a copy; the record itself is never
// mutated in place.
func DefaultConfig() DetectorConfig {
	return DetectorConfig{
		Mu0:                 0.0005,
		BaseN:               500,
		TargetShiftSigma:    1.0,
		TargetARL0:          250,
		MonitoringSide:      SideNone,
		PenaltyStrength:     1.0,
		CooldownPeriods:     6,
		EnableCooldown:      true,
		ItemType:            ItemTypeYield,
		FIRRatio:            0.004,
		FIRDuration:         700,
		EwmaLambda:          0.2,
		WindowSize:          700,
		UpdateIntervalHours: 24,
		MaxChangeRatio:      0.1,
		InvalidRadius:       10,
		MinDetectionRatio:   0.15,
		MinNRatio:           0.5,
		MinK:                0.001,
	}
}

// Normalized fills derived defaults: an unset monitoring side follows the
// item type, parameter items watching both directions and yield items the
// upper one.
func (c DetectorConfig) Normalized() DetectorConfig {
	if c.MonitoringSide == SideNone {
		if c.ItemType == ItemTypeParameter {
			c.MonitoringSide = SideBoth
		} else {
			c.MonitoringSide = SideUpper
		}
	}
	if c.ItemType == "" {
		c.ItemType = ItemTypeYield
	}
	return c
}

// Validate checks the invariants a detector construction relies on.
func (c DetectorConfig) Validate() error {
	if c.BaseN <= 0 {
		return fmt.Errorf("base_n must be positive, got %v", c.BaseN)
	}
	if c.TargetShiftSigma <= 0 {
		return fmt.Errorf("target_shift_sigma must be positive, got %v", c.TargetShiftSigma)
	}
	if c.TargetARL0 < 1 {
		return fmt.Errorf("target_arl0 must be >= 1, got %v", c.TargetARL0)
	}
	if c.PenaltyStrength < 0 || c.PenaltyStrength > MaxPenaltyStrength {
		return fmt.Errorf("penalty_strength must be in [0, %v], got %v", MaxPenaltyStrength, c.PenaltyStrength)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	switch c.MonitoringSide {
	case SideUpper, SideLower, SideBoth:
	default:
		return fmt.Errorf("invalid monitoring_side %q", c.MonitoringSide)
	}
	switch c.ItemType {
	case ItemTypeYield, ItemTypeParameter:
	default:
		return fmt.Errorf("invalid item_type %q", c.ItemType)
	}
	return nil
}

// ConfigPatch is a partial DetectorConfig. Nil fields leave the base value
// unchanged. Patches are what the config store persists, so that per-key
// documents record only what was explicitly set.
type ConfigPatch struct {
	Mu0              *float64  `json:"mu0,omitempty"`
	BaseN            *float64  `json:"base_n,omitempty"`
	TargetShiftSigma *float64  `json:"target_shift_sigma,omitempty"`
	TargetARL0       *float64  `json:"target_arl0,omitempty"`
	MonitoringSide   *Side     `json:"monitoring_side,omitempty"`
	PenaltyStrength  *float64  `json:"penalty_strength,omitempty"`
	CooldownPeriods  *int      `json:"cooldown_periods,omitempty"`
	EnableCooldown   *bool     `json:"enable_cooldown,omitempty"`
	ItemType         *ItemType `json:"item_type,omitempty"`

	UseFIR      *bool    `json:"use_fir,omitempty"`
	FIRRatio    *float64 `json:"fir_ratio,omitempty"`
	FIRDuration *int     `json:"fir_duration,omitempty"`

	UseEWMA    *bool    `json:"use_ewma,omitempty"`
	EwmaLambda *float64 `json:"ewma_lambda,omitempty"`

	WindowSize          *int     `json:"window_size,omitempty"`
	UpdateIntervalHours *float64 `json:"update_interval_hours,omitempty"`
	MaxChangeRatio      *float64 `json:"max_change_ratio,omitempty"`
	InvalidRadius       *int     `json:"invalid_radius,omitempty"`

	MinDetectionRatio *float64 `json:"min_detection_ratio,omitempty"`
	MinNRatio         *float64 `json:"min_n_ratio,omitempty"`
	MinK              *float64 `json:"min_k,omitempty"`
}

// IsZero returns whether the patch sets nothing.
func (p ConfigPatch) IsZero() bool {
	return p == ConfigPatch{}
}

// Merge returns the stored patch with every set field of p overlaid, so that
// repeated writes to one key accumulate instead of replacing the document.
func (p ConfigPatch) Merge(stored ConfigPatch) ConfigPatch {
	base := stored
	if p.Mu0 != nil {
		base.Mu0 = p.Mu0
	}
	if p.BaseN != nil {
		base.BaseN = p.BaseN
	}
	if p.TargetShiftSigma != nil {
		base.TargetShiftSigma = p.TargetShiftSigma
	}
	if p.TargetARL0 != nil {
		base.TargetARL0 = p.TargetARL0
	}
	if p.MonitoringSide != nil {
		base.MonitoringSide = p.MonitoringSide
	}
	if p.PenaltyStrength != nil {
		base.PenaltyStrength = p.PenaltyStrength
	}
	if p.CooldownPeriods != nil {
		base.CooldownPeriods = p.CooldownPeriods
	}
	if p.EnableCooldown != nil {
		base.EnableCooldown = p.EnableCooldown
	}
	if p.ItemType != nil {
		base.ItemType = p.ItemType
	}
	if p.UseFIR != nil {
		base.UseFIR = p.UseFIR
	}
	if p.FIRRatio != nil {
		base.FIRRatio = p.FIRRatio
	}
	if p.FIRDuration != nil {
		base.FIRDuration = p.FIRDuration
	}
	if p.UseEWMA != nil {
		base.UseEWMA = p.UseEWMA
	}
	if p.EwmaLambda != nil {
		base.EwmaLambda = p.EwmaLambda
	}
	if p.WindowSize != nil {
		base.WindowSize = p.WindowSize
	}
	if p.UpdateIntervalHours != nil {
		base.UpdateIntervalHours = p.UpdateIntervalHours
	}
	if p.MaxChangeRatio != nil {
		base.MaxChangeRatio = p.MaxChangeRatio
	}
	if p.InvalidRadius != nil {
		base.InvalidRadius = p.InvalidRadius
	}
	if p.MinDetectionRatio != nil {
		base.MinDetectionRatio = p.MinDetectionRatio
	}
	if p.MinNRatio != nil {
		base.MinNRatio = p.MinNRatio
	}
	if p.MinK != nil {
		base.MinK = p.MinK
	}
	return base
}

// Apply returns base with every set field of the patch overlaid.
func (p ConfigPatch) Apply(base DetectorConfig) DetectorConfig {
	if p.Mu0 != nil {
		base.Mu0 = *p.Mu0
	}
	if p.BaseN != nil {
		base.BaseN = *p.BaseN
	}
	if p.TargetShiftSigma != nil {
		base.TargetShiftSigma = *p.TargetShiftSigma
	}
	if p.TargetARL0 != nil {
		base.TargetARL0 = *p.TargetARL0
	}
	if p.MonitoringSide != nil {
		base.MonitoringSide = *p.MonitoringSide
	}
	if p.PenaltyStrength != nil {
		base.PenaltyStrength = *p.PenaltyStrength
	}
	if p.CooldownPeriods != nil {
		base.CooldownPeriods = *p.CooldownPeriods
	}
	if p.EnableCooldown != nil {
		base.EnableCooldown = *p.EnableCooldown
	}
	if p.ItemType != nil {
		base.ItemType = *p.ItemType
	}
	if p.UseFIR != nil {
		base.UseFIR = *p.UseFIR
	}
	if p.FIRRatio != nil {
		base.FIRRatio = *p.FIRRatio
	}
	if p.FIRDuration != nil {
		base.FIRDuration = *p.FIRDuration
	}
	if p.UseEWMA != nil {
		base.UseEWMA = *p.UseEWMA
	}
	if p.EwmaLambda != nil {
		base.EwmaLambda = *p.EwmaLambda
	}
	if p.WindowSize != nil {
		base.WindowSize = *p.WindowSize
	}
	if p.UpdateIntervalHours != nil {
		base.UpdateIntervalHours = *p.UpdateIntervalHours
	}
	if p.MaxChangeRatio != nil {
		base.MaxChangeRatio = *p.MaxChangeRatio
	}
	if p.InvalidRadius != nil {
		base.InvalidRadius = *p.InvalidRadius
	}
	if p.MinDetectionRatio != nil {
		base.MinDetectionRatio = *p.MinDetectionRatio
	}
	if p.MinNRatio != nil {
		base.MinNRatio = *p.MinNRatio
	}
	if p.MinK != nil {
		base.MinK = *p.MinK
	}
	return base
}
