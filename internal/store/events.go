package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event statuses.
const (
	EventPending = "pending"
	EventDone    = "done"
	EventFailed  = "failed"
)

// Event is one handled webhook call. Payload is the redacted request body.
type Event struct {
	ID        int64
	Key       string
	Entry     string
	Kind      string
	UserID    int
	Timestamp int64
	Payload   string
	Status    string
	Error     string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordEvent stores e as pending and returns its id. An event whose key is
// already logged is reused and its attempt count bumped.
func (db *DB) RecordEvent(ctx context.Context, e *Event) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, "SELECT id FROM events WHERE event_key = ? ORDER BY id DESC LIMIT 1", e.Key).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return 0, fmt.Errorf("looking up event: %w", err)
	default:
		_, err := db.ExecContext(ctx,
			`UPDATE events SET status = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			EventPending, id,
		)
		if err != nil {
			return 0, fmt.Errorf("updating event: %w", err)
		}
		return id, nil
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO events (event_key, entry, kind, user_id, timestamp, payload, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Entry, e.Kind, e.UserID, e.Timestamp, e.Payload, EventPending,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	return result.LastInsertId()
}

// FinishEvent sets the final status of an event. errMsg is kept for failed
// events.
func (db *DB) FinishEvent(ctx context.Context, id int64, status, errMsg string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE events SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("finishing event %d: %w", id, err)
	}
	return nil
}

// FailedEvents returns failed events, oldest first.
func (db *DB) FailedEvents(ctx context.Context) ([]Event, error) {
	return db.queryEvents(ctx,
		`SELECT id, event_key, entry, kind, user_id, timestamp, payload, status, error, attempts, created_at, updated_at
		 FROM events
		 WHERE status = ?
		 ORDER BY id ASC`,
		EventFailed,
	)
}

func (db *DB) queryEvents(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload sql.NullString
		var createdStr, updatedStr string

		if err := rows.Scan(
			&e.ID, &e.Key, &e.Entry, &e.Kind, &e.UserID, &e.Timestamp, &payload,
			&e.Status, &e.Error, &e.Attempts, &createdStr, &updatedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Payload = payload.String
		e.CreatedAt = parseSQLiteTime(createdStr)
		e.UpdatedAt = parseSQLiteTime(updatedStr)

		events = append(events, e)
	}

	return events, rows.Err()
}

// parseSQLiteTime reads CURRENT_TIMESTAMP values, which modernc returns
// either as RFC 3339 or as "2006-01-02 15:04:05".
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
