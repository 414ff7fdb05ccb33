package spc

import "context"

// ConfigStore persists per-detector configuration patches keyed by composite
// key or bare item name, plus the global defaults patch. Writes are atomic
// per call.
type ConfigStore interface {
	// Get returns the patch stored for key, reporting whether one exists.
	Get(key string) (ConfigPatch, bool, error)

	// Set merges the patch into the stored document for key.
	Set(key string, patch ConfigPatch) error

	// Delete removes the document for key. Deleting an absent key is a no-op.
	Delete(key string) error

	// List returns all per-key documents, excluding the global defaults.
	List() (map[string]ConfigPatch, error)

	// Global returns the global defaults patch.
	Global() (ConfigPatch, error)

	// SetGlobal merges the patch into the global defaults document.
	SetGlobal(patch ConfigPatch) error
}

// StateStore persists detector checkpoints durably across process restarts.
type StateStore interface {
	// UpsertMany inserts or replaces the snapshots by key.
	UpsertMany(ctx context.Context, states []DetectorState) error

	// DeleteMany removes the snapshots for the given keys.
	DeleteMany(ctx context.Context, keys []string) error

	// LoadAll returns every stored snapshot, keyed by detector key.
	LoadAll(ctx context.Context) (map[string]DetectorState, error)
}

// RecordLog is the append-only store of processed samples and their
// decisions. The engine never depends on it for correctness; append failures
// are logged and swallowed by the caller.
type RecordLog interface {
	// Append stores one processed record. Concurrent appends are atomic per
	// record.
	Append(ctx context.Context, rec Record) error

	// Query returns records matching the filter, sorted by timestamp
	// ascending, capped at the filter's limit.
	Query(ctx context.Context, filter RecordFilter) ([]Record, error)
}
