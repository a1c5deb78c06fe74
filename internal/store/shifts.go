package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asmbly/odvclock/internal/ledger"
)

const shiftColumns = `id, volunteer_id, volunteer, status, date, time_in, time_out,
	clock_in_at, clock_out_at, clock_in_key, clock_out_key, timesheet_row, master_row`

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LastShift returns the most recently created shift for the volunteer.
func (db *DB) LastShift(ctx context.Context, volunteerID int) (*ledger.Shift, error) {
	shifts, err := db.queryShifts(ctx,
		`SELECT `+shiftColumns+` FROM shifts WHERE volunteer_id = ? ORDER BY rowid DESC LIMIT 1`,
		volunteerID,
	)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return nil, nil
	}
	return &shifts[0], nil
}

// SaveShift inserts or updates s by id.
func (db *DB) SaveShift(ctx context.Context, s *ledger.Shift) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO shifts (`+shiftColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			date = excluded.date,
			time_in = excluded.time_in,
			time_out = excluded.time_out,
			clock_in_at = excluded.clock_in_at,
			clock_out_at = excluded.clock_out_at,
			clock_in_key = excluded.clock_in_key,
			clock_out_key = excluded.clock_out_key,
			timesheet_row = excluded.timesheet_row,
			master_row = excluded.master_row`,
		s.ID.String(), s.VolunteerID, s.Volunteer, string(s.Status), s.Date, s.TimeIn, s.TimeOut,
		formatTime(s.ClockInAt), formatTime(s.ClockOutAt), s.ClockInKey, s.ClockOutKey,
		s.Rows[ledger.ReplicaTimesheet], s.Rows[ledger.ReplicaMaster],
	)
	if err != nil {
		return fmt.Errorf("saving shift %s: %w", s.ID, err)
	}
	return nil
}

// ListShifts returns shifts that started (or, lacking a clock-in, ended)
// at or after since, oldest first. openOnly restricts to open shifts.
func (db *DB) ListShifts(ctx context.Context, since time.Time, openOnly bool) ([]ledger.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts
		WHERE (CASE WHEN clock_in_at != '' THEN clock_in_at ELSE clock_out_at END) >= ?`
	args := []interface{}{formatTime(since)}
	if openOnly {
		query += ` AND status = ?`
		args = append(args, string(ledger.StatusOpen))
	}
	query += ` ORDER BY rowid ASC`
	return db.queryShifts(ctx, query, args...)
}

func (db *DB) Applied(ctx context.Context, eventKey string, replica ledger.Replica) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM applied WHERE event_key = ? AND replica = ?",
		eventKey, string(replica),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("reading applied marker: %w", err)
	}
	return n > 0, nil
}

func (db *DB) MarkApplied(ctx context.Context, eventKey string, replica ledger.Replica) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO applied (event_key, replica) VALUES (?, ?) ON CONFLICT DO NOTHING",
		eventKey, string(replica),
	)
	if err != nil {
		return fmt.Errorf("writing applied marker: %w", err)
	}
	return nil
}

func (db *DB) queryShifts(ctx context.Context, query string, args ...interface{}) ([]ledger.Shift, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying shifts: %w", err)
	}
	defer rows.Close()

	var shifts []ledger.Shift
	for rows.Next() {
		var s ledger.Shift
		var id, status, inAt, outAt string
		var tsRow, masterRow int

		if err := rows.Scan(
			&id, &s.VolunteerID, &s.Volunteer, &status, &s.Date, &s.TimeIn, &s.TimeOut,
			&inAt, &outAt, &s.ClockInKey, &s.ClockOutKey, &tsRow, &masterRow,
		); err != nil {
			return nil, fmt.Errorf("scanning shift: %w", err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing shift id %q: %w", id, err)
		}
		s.ID = parsed
		s.Status = ledger.Status(status)
		s.ClockInAt = parseTime(inAt)
		s.ClockOutAt = parseTime(outAt)
		s.Rows = map[ledger.Replica]int{}
		if tsRow > 0 {
			s.Rows[ledger.ReplicaTimesheet] = tsRow
		}
		if masterRow > 0 {
			s.Rows[ledger.ReplicaMaster] = masterRow
		}

		shifts = append(shifts, s)
	}

	return shifts, rows.Err()
}

var _ ledger.StateStore = (*DB)(nil)
