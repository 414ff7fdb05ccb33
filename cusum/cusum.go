// Package cusum implements the per-detector adaptive CUSUM state machine. A
// detector adapts its baseline and reference value to recent data, scales its
// decision threshold to current throughput, runs the CUSUM recursion on one
// or both sides, and resets after an alert, optionally with a
// fast-initial-response head start.
package cusum

import (
	"math"
	"time"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/arl"
	"github.com/sundaman/defect-warning-system/estimator"
	"github.com/sundaman/defect-warning-system/internal/util"
)

// fallbackSigma is the dispersion assumed for parameter-type values before
// the estimator window has formed. Conservative on purpose; raised from 1.0
// in the original tuning.
const fallbackSigma = 3.0

// skipReasonLowThroughput stamps snapshots of samples whose throughput was
// below the detection floor.
const skipReasonLowThroughput = "throughput below detection floor"

// Detector is one adaptive CUSUM detector. It is a pure function of its
// inputs and initial state: replaying the same sample stream on a fresh
// detector reproduces identical snapshots.
//
// This type is not concurrency safe; the detector manager serializes access
// per key.
type Detector struct {
	cfg   spc.DetectorConfig
	baseH float64

	// Mutable state
	sPlus             float64
	sMinus            float64
	samplesSinceReset int
	totalSamples      int
	firActive         bool

	baseline *estimator.Baseline
	kest     *estimator.K
	ewma     *util.Ewma
	last     *spc.Decision
}

// New creates a Detector from a resolved configuration. The configuration is
// captured at construction; later changes to defaults do not affect it.
func New(cfg spc.DetectorConfig) (*Detector, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ecfg := estimator.Config{
		WindowSize:        cfg.WindowSize,
		InvalidRadius:     cfg.InvalidRadius,
		UpdateInterval:    time.Duration(cfg.UpdateIntervalHours * float64(time.Hour)),
		MaxChangeRatio:    cfg.MaxChangeRatio,
		BaseN:             cfg.BaseN,
		MinDetectionRatio: cfg.MinDetectionRatio,
	}
	return &Detector{
		cfg:      cfg,
		baseH:    arl.BaseH(cfg.TargetShiftSigma, cfg.TargetARL0),
		baseline: estimator.NewBaseline(ecfg),
		kest:     estimator.NewK(ecfg, cfg.MinK, cfg.TargetShiftSigma, estimator.ModeARL),
		ewma:     util.NewEwma(cfg.Mu0, cfg.EwmaLambda),
	}, nil
}

// Config returns the detector's captured configuration.
func (d *Detector) Config() spc.DetectorConfig {
	return d.cfg
}

// BaseH returns the current base decision threshold in sigma units.
func (d *Detector) BaseH() float64 {
	return d.baseH
}

// Last returns the most recent decision snapshot, or nil before the first
// update.
func (d *Detector) Last() *spc.Decision {
	return d.last
}

// Update consumes one sample and returns the annotated decision snapshot.
// The accumulators are reset before returning when the snapshot alerts.
func (d *Detector) Update(value float64, n int, ts time.Time) spc.Decision {
	d.samplesSinceReset++

	nf := float64(n)
	d.baseline.Add(ts, value, nf, false)
	d.kest.Add(ts, value, nf, false)

	mu := d.cfg.Mu0
	if b, ok := d.baseline.Get(); ok {
		mu = b
	}
	if d.cfg.UseEWMA {
		mu = d.ewma.Add(value)
	}

	k := d.cfg.MinK
	if kv, ok := d.kest.K(); ok {
		k = kv
	}

	ratio := nf / d.cfg.BaseN
	if ratio < d.cfg.MinDetectionRatio {
		// The sample fed the estimators, but the CUSUM step is skipped and
		// the accumulators keep their values.
		dec := spc.Decision{
			Time:         ts,
			Value:        value,
			N:            n,
			Baseline:     mu,
			K:            k,
			SPlus:        d.sPlus,
			SMinus:       d.sMinus,
			SkipReason:   skipReasonLowThroughput,
			FIRActive:    d.firActive,
			TotalSamples: d.totalSamples,
		}
		d.last = &dec
		return dec
	}

	d.totalSamples++

	sigmaBase, sigmaCur := d.dispersion(mu, nf)

	var (
		m        float64
		h        float64
		devPlus  float64
		devMinus float64
	)
	if sigmaBase == 0 || sigmaCur == 0 {
		// Degenerate dispersion: unstandardized recursion against the base
		// threshold.
		m = 1.0
		h = d.baseH
		dev := value - mu
		if d.cfg.MonitoringSide.MonitorsUpper() {
			devPlus = dev - k
			d.sPlus = math.Max(0, d.sPlus+devPlus)
		}
		if d.cfg.MonitoringSide.MonitorsLower() {
			devMinus = -dev - k
			d.sMinus = math.Max(0, d.sMinus+devMinus)
		}
	} else {
		m = d.multiplier(sigmaBase, sigmaCur, ratio)
		h = d.baseH * m
		xhat := (value - mu) / sigmaCur
		khat := k / sigmaCur
		if d.cfg.MonitoringSide.MonitorsUpper() {
			devPlus = (xhat - khat) * sigmaCur
			d.sPlus = math.Max(0, d.sPlus+(xhat-khat))
		}
		if d.cfg.MonitoringSide.MonitorsLower() {
			devMinus = (-xhat - khat) * sigmaCur
			d.sMinus = math.Max(0, d.sMinus+(-xhat-khat))
		}
	}

	if d.firActive && d.samplesSinceReset > d.cfg.FIRDuration {
		// Head start expires; the accumulators decay naturally.
		d.firActive = false
	}

	alertPlus := d.cfg.MonitoringSide.MonitorsUpper() && d.sPlus >= h
	alertMinus := d.cfg.MonitoringSide.MonitorsLower() && d.sMinus >= h

	// Upper is the primary direction when both sides fire at once.
	side := spc.SideNone
	if alertPlus {
		side = spc.SideUpper
	} else if alertMinus {
		side = spc.SideLower
	}

	dec := spc.Decision{
		Time:           ts,
		Value:          value,
		N:              n,
		Baseline:       mu,
		K:              k,
		Threshold:      h,
		SPlus:          d.sPlus,
		SMinus:         d.sMinus,
		Std:            sigmaCur,
		Multiplier:     m,
		DeviationPlus:  devPlus,
		DeviationMinus: devMinus,
		Alert:          alertPlus || alertMinus,
		AlertSide:      side,
		FIRActive:      d.firActive,
		TotalSamples:   d.totalSamples,
	}
	d.last = &dec

	if dec.Alert {
		// Keep the anomaly out of future baseline and k estimates, then
		// arm the next run.
		d.baseline.MarkLastAlert()
		d.kest.MarkLastAlert()
		d.reset()
	}
	return dec
}

// dispersion returns the standard deviation of the monitored quantity at the
// base and current throughput.
func (d *Detector) dispersion(mu, n float64) (sigmaBase, sigmaCur float64) {
	if d.cfg.ItemType == spc.ItemTypeYield {
		return yieldStd(mu, d.cfg.BaseN), yieldStd(mu, n)
	}
	raw, ok := d.kest.Std()
	if !ok || raw <= 0 {
		raw = fallbackSigma
	}
	sigmaBase = raw / math.Sqrt(math.Max(1, d.cfg.BaseN))
	sigmaCur = raw / math.Sqrt(math.Max(1, n))
	return sigmaBase, sigmaCur
}

// multiplier scales the threshold by the current-to-base dispersion ratio,
// with an extra penalty when throughput drops below the minimum ratio.
func (d *Detector) multiplier(sigmaBase, sigmaCur, ratio float64) float64 {
	m := sigmaCur / sigmaBase
	if ratio < d.cfg.MinNRatio {
		penalty := math.Sqrt(d.cfg.MinNRatio/ratio - 1)
		m *= 1 + penalty*d.cfg.PenaltyStrength
	}
	return m
}

func (d *Detector) reset() {
	d.sPlus = 0
	d.sMinus = 0
	d.samplesSinceReset = 0
	d.firActive = false
	if d.cfg.UseFIR {
		seed := d.baseH * d.cfg.FIRRatio
		if d.cfg.MonitoringSide.MonitorsUpper() {
			d.sPlus = seed
		}
		if d.cfg.MonitoringSide.MonitorsLower() {
			d.sMinus = seed
		}
		d.firActive = true
	}
}

func yieldStd(p, size float64) float64 {
	if p <= 0 || p >= 1 || size <= 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / size)
}
