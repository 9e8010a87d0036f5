package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/ghostwatch/ia"
)

const insertClosed = `INSERT INTO ias
    (id, label, start_ms, end_ms, html, x, y, right_x, bottom_y)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Closed returns every closed interval ordered by start time.
func (s *Store) Closed(ctx context.Context) ([]ia.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, start_ms, end_ms, html, x, y, right_x, bottom_y
		 FROM ias ORDER BY start_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("store: query closed: %w", err)
	}
	defer rows.Close()

	var recs []ia.Record
	for rows.Next() {
		var r ia.Record
		if err := rows.Scan(&r.ID, &r.Label, &r.Start, &r.End, &r.HTML,
			&r.X, &r.Y, &r.Right, &r.Bottom); err != nil {
			return nil, fmt.Errorf("store: scan closed: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query closed: %w", err)
	}
	return recs, nil
}

// ReadState loads the persisted aggregation state, or a fresh one when none
// was saved yet.
func (s *Store) ReadState(ctx context.Context) (*ia.State, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM ias_meta WHERE key = ?", stateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ia.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read state: %w", err)
	}
	st := ia.NewState()
	if err := json.Unmarshal([]byte(value), st); err != nil {
		return nil, fmt.Errorf("store: decode state: %w", err)
	}
	return st, nil
}

// WriteState persists the aggregation state.
func (s *Store) WriteState(ctx context.Context, st *ia.State) error {
	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ias_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		stateKey, string(value))
	if err != nil {
		return fmt.Errorf("store: write state: %w", err)
	}
	return nil
}

// CommitRun stores a run's outcome atomically: the newly closed intervals
// and the advanced state land together or not at all, so a crash between
// them can never double-count an interval on replay.
func (s *Store) CommitRun(ctx context.Context, closed []ia.Record, st *ia.State) error {
	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: commit run: %w", err)
	}
	defer tx.Rollback()

	for _, r := range closed {
		if _, err := tx.ExecContext(ctx, insertClosed,
			r.ID, r.Label, r.Start, r.End, r.HTML, r.X, r.Y, r.Right, r.Bottom); err != nil {
			return fmt.Errorf("store: insert closed: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ias_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		stateKey, string(value)); err != nil {
		return fmt.Errorf("store: write state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run: %w", err)
	}
	return nil
}
