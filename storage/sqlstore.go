package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	spc "github.com/sundaman/defect-warning-system"
)

const schema = `
CREATE TABLE IF NOT EXISTS detection_records (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	item_name TEXT NOT NULL,
	item_type TEXT NOT NULL DEFAULT '',
	product   TEXT NOT NULL DEFAULT '',
	line      TEXT NOT NULL DEFAULT '',
	station   TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMP NOT NULL,
	value     REAL NOT NULL,
	n         INTEGER NOT NULL,
	baseline  REAL NOT NULL DEFAULT 0,
	std       REAL NOT NULL DEFAULT 0,
	k_value   REAL NOT NULL DEFAULT 0,
	h_value   REAL NOT NULL DEFAULT 0,
	s_plus    REAL NOT NULL DEFAULT 0,
	s_minus   REAL NOT NULL DEFAULT 0,
	is_alert  BOOLEAN NOT NULL DEFAULT FALSE,
	alert_side TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_item_time ON detection_records (item_name, timestamp);
CREATE INDEX IF NOT EXISTS idx_records_time ON detection_records (timestamp);

CREATE TABLE IF NOT EXISTS item_states (
	item_key  TEXT PRIMARY KEY,
	baseline  REAL NOT NULL DEFAULT 0,
	std       REAL NOT NULL DEFAULT 0,
	k_value   REAL NOT NULL DEFAULT 0,
	s_plus    REAL NOT NULL DEFAULT 0,
	s_minus   REAL NOT NULL DEFAULT 0,
	last_data_timestamp TIMESTAMP,
	updated_at TIMESTAMP
);`

// SQLStore implements both the detector checkpoint store and the append-only
// record log on one SQL database.
type SQLStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

var (
	_ spc.StateStore = (*SQLStore)(nil)
	_ spc.RecordLog  = (*SQLStore)(nil)
)

// OpenSQL opens (creating if needed) the SQLite database at dsn and ensures
// the schema.
func OpenSQL(ctx context.Context, dsn string, log zerolog.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLStore{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Append stores one processed record.
func (s *SQLStore) Append(ctx context.Context, rec spc.Record) error {
	const q = `INSERT INTO detection_records
		(item_name, item_type, product, line, station, timestamp, value, n,
		 baseline, std, k_value, h_value, s_plus, s_minus, is_alert, alert_side)
		VALUES (:item_name, :item_type, :product, :line, :station, :timestamp, :value, :n,
		 :baseline, :std, :k_value, :h_value, :s_plus, :s_minus, :is_alert, :alert_side)`
	_, err := s.db.NamedExecContext(ctx, q, rec)
	return err
}

// Query returns records matching the filter, timestamp ascending. A
// non-positive limit defaults to 500.
func (s *SQLStore) Query(ctx context.Context, f spc.RecordFilter) ([]spc.Record, error) {
	var (
		conds []string
		args  []any
	)
	if f.Item != "" {
		conds = append(conds, "item_name = ?")
		args = append(args, f.Item)
	}
	if f.Product != "" {
		conds = append(conds, "product = ?")
		args = append(args, f.Product)
	}
	if f.Line != "" {
		conds = append(conds, "line = ?")
		args = append(args, f.Line)
	}
	if f.Station != "" {
		conds = append(conds, "station = ?")
		args = append(args, f.Station)
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.To)
	}

	q := "SELECT * FROM detection_records"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	q += " ORDER BY timestamp ASC LIMIT ?"
	args = append(args, limit)

	var out []spc.Record
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes records older than cutoff and returns the number removed.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM detection_records WHERE timestamp < ?"), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneLoop deletes records older than retention every interval until the
// context is done.
func (s *SQLStore) PruneLoop(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := s.Prune(ctx, cutoff); err != nil {
				s.log.Error().Err(err).Msg("record pruning failed")
			} else if n > 0 {
				s.log.Info().Int64("records", n).Time("cutoff", cutoff).Msg("pruned old records")
			}
		}
	}
}

// UpsertMany inserts or replaces checkpoints by key in one transaction.
func (s *SQLStore) UpsertMany(ctx context.Context, states []spc.DetectorState) error {
	if len(states) == 0 {
		return nil
	}
	const q = `INSERT INTO item_states
		(item_key, baseline, std, k_value, s_plus, s_minus, last_data_timestamp, updated_at)
		VALUES (:item_key, :baseline, :std, :k_value, :s_plus, :s_minus, :last_data_timestamp, :updated_at)
		ON CONFLICT(item_key) DO UPDATE SET
			baseline = excluded.baseline,
			std = excluded.std,
			k_value = excluded.k_value,
			s_plus = excluded.s_plus,
			s_minus = excluded.s_minus,
			last_data_timestamp = excluded.last_data_timestamp,
			updated_at = excluded.updated_at`
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, st := range states {
		if _, err := tx.NamedExecContext(ctx, q, st); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteMany removes the checkpoints for the given keys.
func (s *SQLStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	q, args, err := sqlx.In("DELETE FROM item_states WHERE item_key IN (?)", keys)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	return err
}

// LoadAll returns every stored checkpoint keyed by detector key.
func (s *SQLStore) LoadAll(ctx context.Context) (map[string]spc.DetectorState, error) {
	var states []spc.DetectorState
	if err := s.db.SelectContext(ctx, &states, "SELECT * FROM item_states"); err != nil {
		return nil, err
	}
	out := make(map[string]spc.DetectorState, len(states))
	for _, st := range states {
		out[st.Key] = st
	}
	return out, nil
}
