package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/ghostwatch/ia"
)

// AppendEvent appends one event to the log. The event's timestamp must be a
// valid ISO-8601 instant.
func (s *Store) AppendEvent(ctx context.Context, ev ia.Event) error {
	t, ok := ia.ParseTime(ev.Timestamp)
	if !ok {
		return fmt.Errorf("store: append event: invalid timestamp %q", ev.Timestamp)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO logs (ts, epoch_ns, body) VALUES (?, ?, ?)",
		ev.Timestamp, t.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// Events returns the complete log in time order.
func (s *Store) Events(ctx context.Context) ([]ia.Event, error) {
	return s.queryEvents(ctx,
		"SELECT body FROM logs ORDER BY epoch_ns, id")
}

// EventsAfter returns events strictly after the watermark timestamp. An
// empty watermark returns the complete log.
func (s *Store) EventsAfter(ctx context.Context, watermarkISO string) ([]ia.Event, error) {
	if watermarkISO == "" {
		return s.Events(ctx)
	}
	t, ok := ia.ParseTime(watermarkISO)
	if !ok {
		return nil, fmt.Errorf("store: events after: invalid watermark %q", watermarkISO)
	}
	return s.queryEvents(ctx,
		"SELECT body FROM logs WHERE epoch_ns > ? ORDER BY epoch_ns, id", t.UnixNano())
}

// LastEventTime returns the newest event timestamp. ok is false on an empty
// log.
func (s *Store) LastEventTime(ctx context.Context) (time.Time, bool, error) {
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(epoch_ns) FROM logs").Scan(&ns)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: last event time: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns.Int64).UTC(), true, nil
}

// EventCount returns the number of logged events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: event count: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ia.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var events []ia.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var ev ia.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	return events, nil
}
