// Package ledger records shifts in the volunteer's timesheet and in the
// master log. Each sheet row is one shift: Date, Time In, Time Out and a
// live Hours formula.
//
// Writes are made idempotent with a side index of shifts and applied
// markers keyed by event and replica, so a redelivered trigger only touches
// the replicas that have not been written yet.
package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/layout"
	"github.com/asmbly/odvclock/internal/timesheet"
	"github.com/asmbly/odvclock/internal/volunteer"
	"github.com/asmbly/odvclock/internal/workspace"
)

// zeroHours is written to the Hours cell of an auto-closed shift. The
// formula would read equal in and out times as a full day.
const zeroHours = "0:00:00"

const autoCloseSuffix = "#auto-close"

// Sheets is the subset of the Sheets API the writer uses.
type Sheets interface {
	AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) (string, error)
	GetRows(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	UpdateRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	ListSheets(ctx context.Context, spreadsheetID string) ([]workspace.Sheet, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) (int64, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) error
}

type Options struct {
	MasterSpreadsheetID string
	// DedupWindow suppresses repeated taps of the same button. Zero
	// disables suppression.
	DedupWindow time.Duration
	// Editors protect the Hours range of new master log tabs.
	Editors layout.Editors
}

// Outcome is what a clock event did to the ledger.
type Outcome int

const (
	OutcomeOpened Outcome = iota + 1
	OutcomeClosed
	// OutcomeSuppressed is a repeated tap inside the dedup window.
	OutcomeSuppressed
	// OutcomeAlreadyRecorded is a redelivered event that was fully applied.
	OutcomeAlreadyRecorded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpened:
		return "opened"
	case OutcomeClosed:
		return "closed"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeAlreadyRecorded:
		return "already_recorded"
	default:
		return "unknown"
	}
}

// Changed reports whether the ledger moved, which is when downstream
// signage and notifications should follow.
func (o Outcome) Changed() bool {
	return o == OutcomeOpened || o == OutcomeClosed
}

type Result struct {
	Outcome Outcome
	Shift   *Shift
	// AutoClosed is the stale shift closed by this clock-in, if any.
	AutoClosed *Shift
}

type Writer struct {
	sheets Sheets
	store  StateStore
	opts   Options
	logger *slog.Logger
}

func NewWriter(sheets Sheets, store StateStore, opts Options, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{sheets: sheets, store: store, opts: opts, logger: logger}
}

// TargetRow picks the row a clock-out is written to from the number of
// rows returned for A1:B: the last row, but never the title or header row.
func TargetRow(n int) int {
	if n > 2 {
		return n
	}
	return 3
}

// DurationFormula computes Hours for row r, wrapping across midnight.
func DurationFormula(r int) string {
	return fmt.Sprintf("=IF(C%[1]d-B%[1]d>0, C%[1]d-B%[1]d, 1 + (C%[1]d-B%[1]d))", r)
}

// target is one replica of a volunteer's ledger.
type target struct {
	replica       Replica
	spreadsheetID string
	tab           string
}

func (w *Writer) targets(v volunteer.Volunteer, timesheetID string) []target {
	return []target{
		{replica: ReplicaTimesheet, spreadsheetID: timesheetID, tab: timesheet.Tab},
		{replica: ReplicaMaster, spreadsheetID: w.opts.MasterSpreadsheetID, tab: v.FullName},
	}
}

// ClockIn opens a shift for v in both replicas.
func (w *Writer) ClockIn(ctx context.Context, v volunteer.Volunteer, ev event.ClockEvent, timesheetID string) (Result, error) {
	key := ev.Key()
	targets := w.targets(v, timesheetID)

	last, err := w.store.LastShift(ctx, v.ID)
	if err != nil {
		return Result{}, fmt.Errorf("loading last shift: %w", err)
	}

	if last != nil && last.ClockInKey == key {
		if !last.Open() {
			// The shift was closed before this redelivery arrived.
			return Result{Outcome: OutcomeAlreadyRecorded, Shift: last}, nil
		}
		return w.resume(ctx, targets, key, last, OutcomeOpened, w.appendClockIn)
	}
	done, err := w.seen(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Outcome: OutcomeAlreadyRecorded, Shift: last}, nil
	}

	var result Result
	switch {
	case last != nil && last.Status == StatusAutoClosed && last.ClockOutKey == key+autoCloseSuffix:
		// An earlier attempt of this clock-in started the auto-close and
		// failed before opening the new shift.
		w.logger.Info("Resuming auto-close", "key", key, "volunteer", v.FullName)
		if err := w.apply(ctx, targets, key+autoCloseSuffix, last, w.writeZeroHours); err != nil {
			return Result{}, err
		}
		result.AutoClosed = last
	case last != nil && last.Open():
		if within(ev.At, last.ClockInAt, w.opts.DedupWindow) {
			w.logger.Info("Duplicate clock-in suppressed", "volunteer", v.FullName, "open_since", last.TimeIn)
			return Result{Outcome: OutcomeSuppressed, Shift: last}, nil
		}
		if err := w.autoClose(ctx, targets, key+autoCloseSuffix, last); err != nil {
			return Result{}, err
		}
		result.AutoClosed = last
	}

	shift := newShift(v.ID, v.FullName)
	shift.Status = StatusOpen
	shift.Date = ev.Date()
	shift.TimeIn = ev.Clock()
	shift.ClockInAt = ev.At
	shift.ClockInKey = key
	if err := w.store.SaveShift(ctx, shift); err != nil {
		return Result{}, fmt.Errorf("saving shift: %w", err)
	}

	result.Outcome = OutcomeOpened
	result.Shift = shift
	if err := w.apply(ctx, targets, key, shift, w.appendClockIn); err != nil {
		return result, err
	}
	return result, nil
}

// ClockOut closes v's open shift in both replicas.
func (w *Writer) ClockOut(ctx context.Context, v volunteer.Volunteer, ev event.ClockEvent, timesheetID string) (Result, error) {
	key := ev.Key()
	targets := w.targets(v, timesheetID)

	last, err := w.store.LastShift(ctx, v.ID)
	if err != nil {
		return Result{}, fmt.Errorf("loading last shift: %w", err)
	}

	if last != nil && last.ClockOutKey == key {
		step := w.writeClockOut
		if last.Status == StatusMissingClockIn {
			step = w.appendClockOut
		}
		return w.resume(ctx, targets, key, last, OutcomeClosed, step)
	}
	done, err := w.seen(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Outcome: OutcomeAlreadyRecorded, Shift: last}, nil
	}

	var shift *Shift
	step := w.writeClockOut
	switch {
	case last == nil:
		// No history for this volunteer: fall back to row counting.
		shift = newShift(v.ID, v.FullName)
		shift.Status = StatusLegacy
		shift.Date = ev.Date()
	case last.Open():
		shift = last
		shift.Status = StatusClosed
	default:
		if within(ev.At, last.ClockOutAt, w.opts.DedupWindow) {
			w.logger.Info("Duplicate clock-out suppressed", "volunteer", v.FullName, "closed_at", last.TimeOut)
			return Result{Outcome: OutcomeSuppressed, Shift: last}, nil
		}
		w.logger.Warn("Clock-out without an open shift", "volunteer", v.FullName, "last_status", string(last.Status))
		shift = newShift(v.ID, v.FullName)
		shift.Status = StatusMissingClockIn
		shift.Date = ev.Date()
		step = w.appendClockOut
	}

	shift.TimeOut = ev.Clock()
	shift.ClockOutAt = ev.At
	shift.ClockOutKey = key
	if err := w.store.SaveShift(ctx, shift); err != nil {
		return Result{}, fmt.Errorf("saving shift: %w", err)
	}

	result := Result{Outcome: OutcomeClosed, Shift: shift}
	if err := w.apply(ctx, targets, key, shift, step); err != nil {
		return result, err
	}
	return result, nil
}

type writeStep func(ctx context.Context, t target, s *Shift) error

// resume finishes an event whose shift is already in the side index.
func (w *Writer) resume(ctx context.Context, targets []target, key string, s *Shift, outcome Outcome, step writeStep) (Result, error) {
	pending := 0
	for _, t := range targets {
		ok, err := w.store.Applied(ctx, key, t.replica)
		if err != nil {
			return Result{}, fmt.Errorf("checking applied marker: %w", err)
		}
		if !ok {
			pending++
		}
	}
	if pending == 0 {
		w.logger.Info("Event already recorded", "key", key)
		return Result{Outcome: OutcomeAlreadyRecorded, Shift: s}, nil
	}

	w.logger.Info("Resuming partially applied event", "key", key, "pending_replicas", pending)
	result := Result{Outcome: outcome, Shift: s}
	if err := w.apply(ctx, targets, key, s, step); err != nil {
		return result, err
	}
	return result, nil
}

// seen reports whether any replica already carries key. Such an event
// belongs to an older shift and is not replayed.
func (w *Writer) seen(ctx context.Context, key string) (bool, error) {
	for _, r := range Replicas {
		ok, err := w.store.Applied(ctx, key, r)
		if err != nil {
			return false, fmt.Errorf("checking applied marker: %w", err)
		}
		if ok {
			w.logger.Info("Event already recorded", "key", key, "replica", string(r))
			return true, nil
		}
	}
	return false, nil
}

// apply runs step on every replica that has no marker for key, saving the
// shift and marking the replica after each successful write. The first
// failure stops the loop; earlier replicas stay written.
func (w *Writer) apply(ctx context.Context, targets []target, key string, s *Shift, step writeStep) error {
	for _, t := range targets {
		ok, err := w.store.Applied(ctx, key, t.replica)
		if err != nil {
			return fmt.Errorf("checking applied marker: %w", err)
		}
		if ok {
			continue
		}

		if err := step(ctx, t, s); err != nil {
			return fmt.Errorf("writing %s ledger: %w", t.replica, err)
		}
		if err := w.store.SaveShift(ctx, s); err != nil {
			return fmt.Errorf("saving shift: %w", err)
		}
		if err := w.store.MarkApplied(ctx, key, t.replica); err != nil {
			return fmt.Errorf("marking %s applied: %w", t.replica, err)
		}
	}
	return nil
}

func (w *Writer) appendClockIn(ctx context.Context, t target, s *Shift) error {
	if err := w.ensureTab(ctx, t); err != nil {
		return err
	}
	updated, err := w.sheets.AppendRows(ctx, t.spreadsheetID, workspace.A1(t.tab, "A3:B"), [][]any{{s.Date, s.TimeIn}})
	if err != nil {
		return err
	}
	w.recordRow(t, s, updated)
	return nil
}

func (w *Writer) appendClockOut(ctx context.Context, t target, s *Shift) error {
	if err := w.ensureTab(ctx, t); err != nil {
		return err
	}
	updated, err := w.sheets.AppendRows(ctx, t.spreadsheetID, workspace.A1(t.tab, "A3:C"), [][]any{{s.Date, "", s.TimeOut}})
	if err != nil {
		return err
	}
	w.recordRow(t, s, updated)
	return nil
}

func (w *Writer) writeClockOut(ctx context.Context, t target, s *Shift) error {
	if s.Rows[t.replica] == 0 {
		// Row counting reads the tab, so it has to exist.
		if err := w.ensureTab(ctx, t); err != nil {
			return err
		}
	}
	row, err := w.rowFor(ctx, t, s)
	if err != nil {
		return err
	}
	s.Rows[t.replica] = row
	return w.sheets.UpdateRows(ctx, t.spreadsheetID, workspace.A1(t.tab, fmt.Sprintf("C%[1]d:D%[1]d", row)),
		[][]any{{s.TimeOut, DurationFormula(row)}})
}

// autoClose ends a stale open shift with zero hours.
func (w *Writer) autoClose(ctx context.Context, targets []target, key string, s *Shift) error {
	w.logger.Warn("Auto-closing shift left open", "volunteer", s.Volunteer, "date", s.Date, "time_in", s.TimeIn)

	s.Status = StatusAutoClosed
	s.TimeOut = s.TimeIn
	s.ClockOutAt = s.ClockInAt
	s.ClockOutKey = key
	if err := w.store.SaveShift(ctx, s); err != nil {
		return fmt.Errorf("saving shift: %w", err)
	}

	return w.apply(ctx, targets, key, s, w.writeZeroHours)
}

// writeZeroHours closes an auto-closed shift's row.
func (w *Writer) writeZeroHours(ctx context.Context, t target, s *Shift) error {
	row, err := w.rowFor(ctx, t, s)
	if err != nil {
		return err
	}
	s.Rows[t.replica] = row
	return w.sheets.UpdateRows(ctx, t.spreadsheetID, workspace.A1(t.tab, fmt.Sprintf("C%[1]d:D%[1]d", row)),
		[][]any{{s.TimeOut, zeroHours}})
}

// rowFor returns the shift's stored row in t, or counts rows when the row
// was never recorded.
func (w *Writer) rowFor(ctx context.Context, t target, s *Shift) (int, error) {
	if row := s.Rows[t.replica]; row > 0 {
		return row, nil
	}
	rows, err := w.sheets.GetRows(ctx, t.spreadsheetID, workspace.A1(t.tab, "A1:B"))
	if err != nil {
		return 0, err
	}
	row := TargetRow(len(rows))
	w.logger.Debug("Row located by counting", "replica", string(t.replica), "rows", len(rows), "row", row)
	return row, nil
}

func (w *Writer) recordRow(t target, s *Shift, updatedRange string) {
	row, err := workspace.RowOf(updatedRange)
	if err != nil {
		w.logger.Warn("Could not read appended row", "replica", string(t.replica), "range", updatedRange, "error", err)
		return
	}
	s.Rows[t.replica] = row
}

// ensureTab creates the volunteer's master log tab on first use.
func (w *Writer) ensureTab(ctx context.Context, t target) error {
	if t.replica != ReplicaMaster {
		return nil
	}
	tabs, err := w.sheets.ListSheets(ctx, t.spreadsheetID)
	if err != nil {
		return err
	}
	for _, tab := range tabs {
		if tab.Title == t.tab {
			return nil
		}
	}

	sheetID, err := w.sheets.AddSheet(ctx, t.spreadsheetID, t.tab)
	if err != nil {
		return err
	}
	w.logger.Info("Created master log tab", "title", t.tab, "sheet_id", sheetID)
	return w.sheets.BatchUpdate(ctx, t.spreadsheetID, layout.NewTab(sheetID, t.tab, w.opts.Editors))
}

// within reports whether at falls less than window after since.
func within(at, since time.Time, window time.Duration) bool {
	if window <= 0 || since.IsZero() {
		return false
	}
	d := at.Sub(since)
	return d >= 0 && d < window
}
