package store

import (
	"time"
)

// EventRecord is one journaled event.
type EventRecord struct {
	ID         int64  `json:"id"`
	OccurredAt string `json:"timestamp"`
	SourceID   string `json:"source_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

func (db *DB) AppendEvent(occurredAt time.Time, sourceID, kind, detail string) (int64, error) {
	return db.insert(`INSERT INTO events (occurred_at, source_id, kind, detail) VALUES (?, ?, ?, ?)`,
		occurredAt.UTC().Format(time.RFC3339Nano), sourceID, kind, detail)
}

// ListEvents returns the newest events first, optionally for one source.
func (db *DB) ListEvents(limit int, sourceID string) ([]*EventRecord, error) {
	query := `SELECT id, occurred_at, source_id, kind, detail FROM events`
	args := []any{}
	if sourceID != "" {
		query += ` WHERE source_id=?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.SourceID, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (db *DB) CountEvents() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
