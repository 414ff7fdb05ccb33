// Package spc provides the core types for an online statistical
// process-control service: samples, detector keys, detector configuration,
// decision snapshots, and the collaborator interfaces for configuration,
// state checkpoints, and the processed-record log.
package spc

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrBadSample indicates an ingested sample that is structurally invalid and
// was rejected before reaching any detector.
var ErrBadSample = errors.New("bad sample")

// ErrNotFound indicates an operation referenced a detector key that is not
// registered.
var ErrNotFound = errors.New("detector not found")

// Side is a monitored drift direction.
type Side string

const (
	// SideNone is the zero value, reported when no side alerted.
	SideNone  Side = ""
	SideUpper Side = "upper"
	SideLower Side = "lower"
	SideBoth  Side = "both"
)

// MonitorsUpper returns whether the side includes the upper direction.
func (s Side) MonitorsUpper() bool {
	return s == SideUpper || s == SideBoth
}

// MonitorsLower returns whether the side includes the lower direction.
func (s Side) MonitorsLower() bool {
	return s == SideLower || s == SideBoth
}

// ItemType distinguishes how a monitored value's dispersion is derived.
type ItemType string

const (
	// ItemTypeYield marks binomial rate values whose sigma derives from p(1-p)/n.
	ItemTypeYield ItemType = "yield"
	// ItemTypeParameter marks arbitrary real values whose sigma is estimated
	// from a window.
	ItemTypeParameter ItemType = "parameter"
)

// Context carries the production context attached to a sample. All fields are
// optional; an empty Context collapses the detector key to the bare item.
type Context struct {
	Product string `json:"product,omitempty"`
	Line    string `json:"line,omitempty"`
	Station string `json:"station,omitempty"`
}

// IsEmpty returns whether no context attribute is set.
func (c Context) IsEmpty() bool {
	return c.Product == "" && c.Line == "" && c.Station == ""
}

// Sample is one immutable ingested measurement.
type Sample struct {
	Item    string         `json:"item_name"`
	Type    ItemType       `json:"item_type"`
	Context Context        `json:"context"`
	Value   float64        `json:"value"`
	N       int            `json:"n"`
	Time    time.Time      `json:"timestamp"`
	Tags    map[string]any `json:"tags,omitempty"`
}

// Validate rejects samples that must never reach a detector: missing item,
// non-positive throughput, or a non-finite value.
func (s Sample) Validate() error {
	if s.Item == "" {
		return fmt.Errorf("%w: missing item name", ErrBadSample)
	}
	if s.N <= 0 {
		return fmt.Errorf("%w: throughput %d is not positive", ErrBadSample, s.N)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: value is not finite", ErrBadSample)
	}
	return nil
}

// Decision is the annotated snapshot of one detector update step.
type Decision struct {
	Time           time.Time `json:"timestamp"`
	Value          float64   `json:"value"`
	N              int       `json:"n"`
	Baseline       float64   `json:"baseline"`
	K              float64   `json:"k_value"`
	Threshold      float64   `json:"h_value"`
	SPlus          float64   `json:"s_plus"`
	SMinus         float64   `json:"s_minus"`
	Std            float64   `json:"std"`
	Multiplier     float64   `json:"threshold_multiplier"`
	DeviationPlus  float64   `json:"deviation_plus"`
	DeviationMinus float64   `json:"deviation_minus"`
	Alert          bool      `json:"alert"`
	AlertSide      Side      `json:"alert_side,omitempty"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	FIRActive      bool      `json:"fir_active"`
	TotalSamples   int       `json:"total_samples"`

	// PushExecuted is stamped by the manager after cooldown evaluation.
	PushExecuted bool `json:"push_executed"`
}

// DetectorState is the persistable checkpoint of a detector. Estimator
// windows are deliberately not part of it; they rewarm from new data.
type DetectorState struct {
	Key          string    `json:"key" db:"item_key"`
	Baseline     float64   `json:"baseline" db:"baseline"`
	Std          float64   `json:"std" db:"std"`
	K            float64   `json:"k_value" db:"k_value"`
	SPlus        float64   `json:"s_plus" db:"s_plus"`
	SMinus       float64   `json:"s_minus" db:"s_minus"`
	LastDataTime time.Time `json:"last_data_timestamp" db:"last_data_timestamp"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Record is one processed sample with its decision, as appended to the
// record log.
type Record struct {
	ID       int64     `json:"id" db:"id"`
	Item     string    `json:"item_name" db:"item_name"`
	ItemType ItemType  `json:"item_type" db:"item_type"`
	Product  string    `json:"product,omitempty" db:"product"`
	Line     string    `json:"line,omitempty" db:"line"`
	Station  string    `json:"station,omitempty" db:"station"`
	Time     time.Time `json:"timestamp" db:"timestamp"`
	Value    float64   `json:"value" db:"value"`
	N        int       `json:"n" db:"n"`
	Baseline float64   `json:"baseline" db:"baseline"`
	Std      float64   `json:"std" db:"std"`
	K        float64   `json:"k_value" db:"k_value"`
	H        float64   `json:"h_value" db:"h_value"`
	SPlus    float64   `json:"s_plus" db:"s_plus"`
	SMinus   float64   `json:"s_minus" db:"s_minus"`
	Alert    bool      `json:"is_alert" db:"is_alert"`
	Side     Side      `json:"alert_side,omitempty" db:"alert_side"`
}

// RecordFilter selects records from the record log. Zero fields match
// everything; results are sorted by timestamp ascending and capped at Limit.
type RecordFilter struct {
	Item    string
	Product string
	Line    string
	Station string
	From    time.Time
	To      time.Time
	Limit   int
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone
// designator. It reports false when no layout matches; callers fall back to
// wall clock so that a sample is never refused due to time parsing.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
