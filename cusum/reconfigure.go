package cusum

import (
	"math"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/arl"
)

// Tuning is a partial update of the detector's ARL design inputs. Nil fields
// leave the current value unchanged.
type Tuning struct {
	TargetShiftSigma *float64
	TargetARL0       *float64
}

// Reconfigure applies a tuning change and recomputes the base threshold
// immediately. The accumulators are not reset; the next update compares
// against the new threshold. Returns the new base threshold.
func (d *Detector) Reconfigure(t Tuning) float64 {
	if t.TargetShiftSigma != nil {
		d.cfg.TargetShiftSigma = *t.TargetShiftSigma
	}
	if t.TargetARL0 != nil {
		d.cfg.TargetARL0 = *t.TargetARL0
	}
	d.baseH = arl.BaseH(d.cfg.TargetShiftSigma, d.cfg.TargetARL0)
	return d.baseH
}

// State captures the persistable checkpoint: accumulators, the current
// baseline and standardization parameters, and the last sample time.
// Estimator windows are intentionally not part of it.
func (d *Detector) State() spc.DetectorState {
	st := spc.DetectorState{
		SPlus:  d.sPlus,
		SMinus: d.sMinus,
	}
	st.Baseline = d.cfg.Mu0
	if b, ok := d.baseline.Get(); ok {
		st.Baseline = b
	}
	st.K = d.cfg.MinK
	if k, ok := d.kest.K(); ok {
		st.K = k
	}
	if std, ok := d.kest.Std(); ok {
		st.Std = std
	}
	if d.last != nil {
		st.LastDataTime = d.last.Time
	}
	return st
}

// SetState restores a checkpoint. The accumulators and standardization
// parameters come back; the estimator windows rewarm from new data, falling
// back to the restored baseline until they do.
func (d *Detector) SetState(st spc.DetectorState) {
	d.sPlus = math.Max(0, st.SPlus)
	d.sMinus = math.Max(0, st.SMinus)
	if st.Baseline != 0 {
		d.cfg.Mu0 = st.Baseline
		d.ewma.Reset(st.Baseline)
	}
	d.kest.Seed(st.Std, st.K)
}
