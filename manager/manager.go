// Package manager routes incoming samples to their detectors: it computes
// detector keys, creates detectors lazily with layered configuration, applies
// the alert cooldown policy, and orchestrates state persistence.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/cusum"
	"github.com/sundaman/defect-warning-system/internal/util"
)

// Config configures a Manager. ConfigStore, StateStore and RecordLog are
// required collaborators.
type Config struct {
	// Defaults is the immutable base configuration. Zero means
	// spc.DefaultConfig(). Detectors capture their resolved configuration at
	// construction; later default changes affect only later constructions.
	Defaults spc.DetectorConfig

	ConfigStore spc.ConfigStore
	StateStore  spc.StateStore
	RecordLog   spc.RecordLog

	Clock  util.Clock
	Logger zerolog.Logger
}

// Result is the outcome of processing one sample.
type Result struct {
	Key        string         `json:"unique_key"`
	Alert      bool           `json:"alert"`
	ShouldPush bool           `json:"should_push"`
	AlertSide  spc.Side       `json:"alert_side,omitempty"`
	Decision   spc.Decision   `json:"current_status"`
	Trajectory []spc.Decision `json:"history"`
}

// Status summarizes one live detector for observability.
type Status struct {
	Key   string            `json:"key"`
	State spc.DetectorState `json:"state"`
	Last  *spc.Decision     `json:"last_decision,omitempty"`
}

type entry struct {
	mu sync.Mutex
	// Guarded by mu
	det  *cusum.Detector
	cfg  spc.DetectorConfig
	traj *trajectory
}

// Requires external locking
func (e *entry) shouldPush() bool {
	if !e.cfg.EnableCooldown {
		return true
	}
	for _, past := range e.traj.last(e.cfg.CooldownPeriods) {
		if past.PushExecuted {
			return false
		}
	}
	return true
}

// Manager owns the detector table. Samples for different keys may execute in
// parallel; samples for the same key are serialized on the entry lock, which
// covers the detector step, cooldown inspection, trajectory append, and the
// record log append as one critical section.
type Manager struct {
	defaults spc.DetectorConfig
	configs  spc.ConfigStore
	states   spc.StateStore
	records  spc.RecordLog
	clock    util.Clock
	log      zerolog.Logger

	mu sync.RWMutex
	// Guarded by mu
	entries     map[string]*entry
	pending     map[string]spc.DetectorState
	globalPatch spc.ConfigPatch
}

// New creates a Manager. The persisted global defaults patch is loaded
// eagerly so that the first sample already sees it.
func New(cfg Config) (*Manager, error) {
	defaults := cfg.Defaults
	if defaults == (spc.DetectorConfig{}) {
		defaults = spc.DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.WallClock
	}
	m := &Manager{
		defaults: defaults,
		configs:  cfg.ConfigStore,
		states:   cfg.StateStore,
		records:  cfg.RecordLog,
		clock:    clock,
		log:      cfg.Logger,
		entries:  make(map[string]*entry),
		pending:  make(map[string]spc.DetectorState),
	}
	global, err := m.configs.Global()
	if err != nil {
		return nil, err
	}
	m.globalPatch = global
	return m, nil
}

// Process runs one sample through its detector and returns the decision, the
// cooldown-gated push flag, and the bounded trajectory window. The sample's
// zero time falls back to the wall clock; a sample is never refused because
// of its timestamp.
func (m *Manager) Process(ctx context.Context, sample spc.Sample, override *spc.ConfigPatch) (Result, error) {
	if err := sample.Validate(); err != nil {
		return Result{}, err
	}
	ts := sample.Time
	if ts.IsZero() {
		ts = m.clock.Now()
	}

	key := spc.NewKey(sample.Item, sample.Context)
	keyStr := key.String()

	cfg := m.resolveConfig(keyStr, key.Item, sample.Type, override)
	e, err := m.getOrCreate(keyStr, cfg)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dec := e.det.Update(sample.Value, sample.N, ts)
	if dec.Alert {
		dec.PushExecuted = e.shouldPush()
	}
	e.traj.add(dec)

	rec := spc.Record{
		Item:     sample.Item,
		ItemType: e.cfg.ItemType,
		Product:  sample.Context.Product,
		Line:     sample.Context.Line,
		Station:  sample.Context.Station,
		Time:     ts,
		Value:    sample.Value,
		N:        sample.N,
		Baseline: dec.Baseline,
		Std:      dec.Std,
		K:        dec.K,
		H:        dec.Threshold,
		SPlus:    dec.SPlus,
		SMinus:   dec.SMinus,
		Alert:    dec.Alert,
		Side:     dec.AlertSide,
	}
	// The in-memory decision is authoritative; a sink failure is logged and
	// never fails the step.
	if err := m.records.Append(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("key", keyStr).Msg("record log append failed")
	}

	return Result{
		Key:        keyStr,
		Alert:      dec.Alert,
		ShouldPush: dec.PushExecuted,
		AlertSide:  dec.AlertSide,
		Decision:   dec,
		Trajectory: e.traj.all(),
	}, nil
}

// resolveConfig layers configuration by precedence: caller override >
// composite-key patch > bare-item patch > global patch > defaults. Store read
// failures degrade to the defaults; ingest never fails on configuration.
func (m *Manager) resolveConfig(key, item string, itemType spc.ItemType, override *spc.ConfigPatch) spc.DetectorConfig {
	m.mu.RLock()
	cfg := m.globalPatch.Apply(m.defaults)
	m.mu.RUnlock()

	if patch, ok, err := m.configs.Get(item); err != nil {
		m.log.Warn().Err(err).Str("item", item).Msg("config lookup failed")
	} else if ok {
		cfg = patch.Apply(cfg)
	}
	if key != item {
		if patch, ok, err := m.configs.Get(key); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("config lookup failed")
		} else if ok {
			cfg = patch.Apply(cfg)
		}
	}
	if itemType != "" {
		cfg.ItemType = itemType
	}
	if override != nil {
		cfg = override.Apply(cfg)
	}
	return cfg.Normalized()
}

func (m *Manager) getOrCreate(key string, cfg spc.DetectorConfig) (*entry, error) {
	m.mu.RLock()
	e := m.entries[key]
	m.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[key]; e != nil {
		return e, nil
	}
	det, err := cusum.New(cfg)
	if err != nil {
		return nil, err
	}
	if st, ok := m.pending[key]; ok {
		det.SetState(st)
		delete(m.pending, key)
	}
	e = &entry{det: det, cfg: det.Config(), traj: newTrajectory(trajectoryCapacity)}
	m.entries[key] = e
	return e, nil
}

// Register validates and persists a configuration patch for an item. When a
// context is supplied, the patch is stored under both the bare item and the
// composite key.
func (m *Manager) Register(item string, pctx spc.Context, patch spc.ConfigPatch) error {
	m.mu.RLock()
	base := m.globalPatch.Apply(m.defaults)
	m.mu.RUnlock()
	if err := patch.Apply(base).Normalized().Validate(); err != nil {
		return err
	}
	if err := m.configs.Set(spc.NewKey(item, spc.Context{}).String(), patch); err != nil {
		return err
	}
	if !pctx.IsEmpty() {
		return m.configs.Set(spc.NewKey(item, pctx).String(), patch)
	}
	return nil
}

// BatchImport seeds configuration for many items sharing one patch and
// context. It returns the number of items registered; the first failure
// stops the import.
func (m *Manager) BatchImport(items []string, shared spc.ConfigPatch, sharedCtx spc.Context) (int, error) {
	for i, item := range items {
		if err := m.Register(item, sharedCtx, shared); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

// Delete removes a detector, its configuration, and its persisted state.
// Deleting an unknown key is a no-op and reports found=false.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	_, found := m.entries[key]
	delete(m.entries, key)
	delete(m.pending, key)
	m.mu.Unlock()

	if err := m.configs.Delete(key); err != nil {
		return found, err
	}
	if err := m.states.DeleteMany(ctx, []string{key}); err != nil {
		return found, err
	}
	return found, nil
}

// ListConfigs returns the global defaults patch and every per-key patch.
func (m *Manager) ListConfigs() (spc.ConfigPatch, map[string]spc.ConfigPatch, error) {
	perKey, err := m.configs.List()
	if err != nil {
		return spc.ConfigPatch{}, nil, err
	}
	m.mu.RLock()
	global := m.globalPatch
	m.mu.RUnlock()
	return global, perKey, nil
}

// UpdateGlobal merges a patch into the global defaults. Only detectors
// constructed afterwards see the change; existing detectors keep their
// captured configuration.
func (m *Manager) UpdateGlobal(patch spc.ConfigPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidate := patch.Apply(m.globalPatch.Apply(m.defaults))
	if err := candidate.Normalized().Validate(); err != nil {
		return err
	}
	if err := m.configs.SetGlobal(patch); err != nil {
		return err
	}
	updated, err := m.configs.Global()
	if err != nil {
		return err
	}
	m.globalPatch = updated
	return nil
}

// UpdateConfig persists a patch for a key and hot-reloads a live detector:
// tuning changes recompute the threshold before the next step, and cooldown
// changes take effect immediately. Window-shape knobs apply only to future
// detectors. Reports whether a live detector was updated.
func (m *Manager) UpdateConfig(key string, patch spc.ConfigPatch) (bool, error) {
	if err := m.configs.Set(key, patch); err != nil {
		return false, err
	}

	m.mu.RLock()
	e := m.entries[key]
	m.mu.RUnlock()
	if e == nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = patch.Apply(e.cfg).Normalized()
	if patch.TargetShiftSigma != nil || patch.TargetARL0 != nil {
		e.det.Reconfigure(cusum.Tuning{
			TargetShiftSigma: patch.TargetShiftSigma,
			TargetARL0:       patch.TargetARL0,
		})
	}
	return true, nil
}

// Keys returns the keys of all live detectors.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// StatusAll summarizes every live detector.
func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	entries := make([]*entry, 0, len(m.entries))
	for k, e := range m.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		st := Status{Key: keys[i], State: e.det.State(), Last: e.det.Last()}
		e.mu.Unlock()
		st.State.Key = keys[i]
		out = append(out, st)
	}
	return out
}

// Trajectory returns the cached decision window for a key.
func (m *Manager) Trajectory(key string) ([]spc.Decision, bool) {
	m.mu.RLock()
	e := m.entries[key]
	m.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traj.all(), true
}

// SaveAllStates checkpoints every live detector to the state store and
// returns the number of snapshots written.
func (m *Manager) SaveAllStates(ctx context.Context) (int, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	entries := make([]*entry, 0, len(m.entries))
	for k, e := range m.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	now := m.clock.Now()
	states := make([]spc.DetectorState, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		st := e.det.State()
		e.mu.Unlock()
		st.Key = keys[i]
		st.UpdatedAt = now
		states = append(states, st)
	}
	if len(states) == 0 {
		return 0, nil
	}
	if err := m.states.UpsertMany(ctx, states); err != nil {
		return 0, err
	}
	return len(states), nil
}

// LoadAllStates loads every checkpoint into the pending set, applied to each
// detector on its first sample after startup. Returns the number loaded.
func (m *Manager) LoadAllStates(ctx context.Context) (int, error) {
	states, err := m.states.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, st := range states {
		m.pending[k] = st
	}
	return len(states), nil
}

// CheckpointLoop periodically checkpoints detector states until the context
// is done, then writes a final checkpoint before returning.
func (m *Manager) CheckpointLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if n, err := m.SaveAllStates(saveCtx); err != nil {
				m.log.Error().Err(err).Msg("final state checkpoint failed")
			} else {
				m.log.Info().Int("detectors", n).Msg("final state checkpoint written")
			}
			return ctx.Err()
		case <-ticker.C:
			if n, err := m.SaveAllStates(ctx); err != nil {
				m.log.Error().Err(err).Msg("state checkpoint failed")
			} else {
				m.log.Debug().Int("detectors", n).Msg("state checkpoint written")
			}
		}
	}
}
