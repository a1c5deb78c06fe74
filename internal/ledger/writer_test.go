package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/volunteer"
)

const (
	timesheetID = "ts-joe"
	masterID    = "master"
)

var joe = volunteer.New(13804489, "Joe", "Shmoe", "test@testemail.com")

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

type harness struct {
	sheets *fakeSheets
	store  *memStore
	writer *Writer
	loc    *time.Location
}

func newHarness(t *testing.T, window time.Duration) *harness {
	t.Helper()
	sh := newFakeSheets()
	sh.addDoc(timesheetID, "Sheet1")
	sh.addDoc(masterID)
	st := newMemStore()
	return &harness{
		sheets: sh,
		store:  st,
		writer: NewWriter(sh, st, Options{MasterSpreadsheetID: masterID, DedupWindow: window}, nil),
		loc:    chicago(t),
	}
}

func (h *harness) in(t *testing.T, ts int64) Result {
	t.Helper()
	ev := event.NewClockEvent("OnDuty Check In", event.ClockIn, joe.ID, ts, h.loc)
	res, err := h.writer.ClockIn(context.Background(), joe, ev, timesheetID)
	if err != nil {
		t.Fatalf("ClockIn(%d): %v", ts, err)
	}
	return res
}

func (h *harness) out(t *testing.T, ts int64) Result {
	t.Helper()
	ev := event.NewClockEvent("OnDuty Check Out", event.ClockOut, joe.ID, ts, h.loc)
	res, err := h.writer.ClockOut(context.Background(), joe, ev, timesheetID)
	if err != nil {
		t.Fatalf("ClockOut(%d): %v", ts, err)
	}
	return res
}

func cell(rows [][]any, row, col int) any {
	if row-1 >= len(rows) || col >= len(rows[row-1]) {
		return nil
	}
	return rows[row-1][col]
}

func TestTargetRow(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 3},
		{1, 3},
		{2, 3},
		{3, 3},
		{4, 4},
		{17, 17},
	}
	for _, tt := range tests {
		if got := TargetRow(tt.n); got != tt.want {
			t.Errorf("TargetRow(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestDurationFormula(t *testing.T) {
	got := DurationFormula(7)
	want := "=IF(C7-B7>0, C7-B7, 1 + (C7-B7))"
	if got != want {
		t.Errorf("DurationFormula(7) = %q, want %q", got, want)
	}
}

func TestClockInAppendsToBothReplicas(t *testing.T) {
	h := newHarness(t, 0)

	res := h.in(t, 1706630094)
	if res.Outcome != OutcomeOpened {
		t.Fatalf("outcome: got %v", res.Outcome)
	}

	for _, doc := range []struct{ id, tab string }{{timesheetID, "Sheet1"}, {masterID, "Joe Shmoe"}} {
		rows := h.sheets.rows(doc.id, doc.tab)
		if len(rows) != 3 {
			t.Fatalf("%s: expected 3 rows, got %v", doc.id, rows)
		}
		if cell(rows, 3, 0) != "01/30/2024" || cell(rows, 3, 1) != "09:54 AM" {
			t.Errorf("%s: unexpected row %v", doc.id, rows[2])
		}
	}
	if n := h.sheets.count("append"); n != 2 {
		t.Errorf("expected exactly 2 appends, got %d", n)
	}
	if n := h.sheets.count("addSheet"); n != 1 {
		t.Errorf("expected the master tab to be created once, got %d", n)
	}
	if res.Shift.Rows[ReplicaTimesheet] != 3 || res.Shift.Rows[ReplicaMaster] != 3 {
		t.Errorf("rows not recorded: %v", res.Shift.Rows)
	}
}

func TestExistingMasterTabIsNotRecreated(t *testing.T) {
	h := newHarness(t, 0)
	h.sheets.addDoc(masterID, "Joe Shmoe")

	h.in(t, 1706630094)
	if n := h.sheets.count("addSheet"); n != 0 {
		t.Errorf("expected no addSheet, got %d", n)
	}
	if h.sheets.batches != 0 {
		t.Errorf("expected no formatting batch, got %d", h.sheets.batches)
	}
}

func TestRoundTripCompletesOneRow(t *testing.T) {
	h := newHarness(t, 0)

	h.in(t, 1706630094)
	res := h.out(t, 1706630094+3*3600)
	if res.Outcome != OutcomeClosed || res.Shift.Status != StatusClosed {
		t.Fatalf("unexpected result %+v", res)
	}

	for _, doc := range []struct{ id, tab string }{{timesheetID, "Sheet1"}, {masterID, "Joe Shmoe"}} {
		rows := h.sheets.rows(doc.id, doc.tab)
		if len(rows) != 3 {
			t.Fatalf("%s: expected one data row, got %v", doc.id, rows)
		}
		if cell(rows, 3, 2) != "12:54 PM" {
			t.Errorf("%s: time out: got %v", doc.id, cell(rows, 3, 2))
		}
		if cell(rows, 3, 3) != DurationFormula(3) {
			t.Errorf("%s: formula: got %v", doc.id, cell(rows, 3, 3))
		}
	}
	if res.Shift.Hours() != 3*time.Hour {
		t.Errorf("Hours: got %v", res.Shift.Hours())
	}
}

func TestClockOutTargetsStoredRow(t *testing.T) {
	h := newHarness(t, 0)
	// Five shifts already on the timesheet from before.
	for i := 0; i < 5; i++ {
		h.sheets.docs[timesheetID]["Sheet1"] = append(h.sheets.docs[timesheetID]["Sheet1"], []any{"01/01/2024", "09:00 AM", "10:00 AM", "=1"})
	}

	h.in(t, 1706630094)
	// Someone types a note below the open row.
	h.sheets.docs[timesheetID]["Sheet1"] = append(h.sheets.docs[timesheetID]["Sheet1"], []any{"note"})

	h.out(t, 1706630094+3600)
	rows := h.sheets.rows(timesheetID, "Sheet1")
	if cell(rows, 8, 2) != "10:54 AM" {
		t.Errorf("clock-out should land on row 8, rows: %v", rows)
	}
	if len(rows[8]) != 1 {
		t.Errorf("note row must be untouched: %v", rows[8])
	}
	if n := h.sheets.count("get"); n != 0 {
		t.Errorf("stored rows should make reads unnecessary, got %d reads", n)
	}
}

func TestLegacyClockOutCountsRows(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		wantRow  int
	}{
		{"empty ledger", 0, 3},
		{"one data row", 1, 3},
		{"four data rows", 4, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.sheets.addDoc(masterID, "Joe Shmoe")
			for i := 0; i < tt.existing; i++ {
				for _, id := range []string{timesheetID, masterID} {
					tab := "Sheet1"
					if id == masterID {
						tab = "Joe Shmoe"
					}
					h.sheets.docs[id][tab] = append(h.sheets.docs[id][tab], []any{"01/01/2024", "09:00 AM"})
				}
			}

			res := h.out(t, 1706630094)
			if res.Shift.Status != StatusLegacy {
				t.Errorf("status: got %v", res.Shift.Status)
			}
			for _, r := range Replicas {
				if res.Shift.Rows[r] != tt.wantRow {
					t.Errorf("%s row: got %d, want %d", r, res.Shift.Rows[r], tt.wantRow)
				}
			}
			rows := h.sheets.rows(timesheetID, "Sheet1")
			formula, _ := cell(rows, tt.wantRow, 3).(string)
			if !strings.Contains(formula, "C"+strconv.Itoa(tt.wantRow)+"-B"+strconv.Itoa(tt.wantRow)) {
				t.Errorf("formula %q does not reference row %d", formula, tt.wantRow)
			}
		})
	}
}

func TestDuplicateClockInSuppressed(t *testing.T) {
	h := newHarness(t, 2*time.Minute)

	h.in(t, 1706630094)
	res := h.in(t, 1706630094+30)
	if res.Outcome != OutcomeSuppressed {
		t.Fatalf("outcome: got %v", res.Outcome)
	}
	if n := h.sheets.count("append"); n != 2 {
		t.Errorf("suppressed tap must not write, got %d appends", n)
	}
}

func TestDuplicateClockOutSuppressed(t *testing.T) {
	h := newHarness(t, 2*time.Minute)

	h.in(t, 1706630094)
	h.out(t, 1706630094+3600)
	res := h.out(t, 1706630094+3660)
	if res.Outcome != OutcomeSuppressed {
		t.Fatalf("outcome: got %v", res.Outcome)
	}
	if n := h.sheets.count("update"); n != 2 {
		t.Errorf("expected 2 updates total, got %d", n)
	}
}

func TestClockInWhileOpenAutoCloses(t *testing.T) {
	h := newHarness(t, 2*time.Minute)

	first := h.in(t, 1706630094)
	res := h.in(t, 1706630094+86400)
	if res.Outcome != OutcomeOpened {
		t.Fatalf("outcome: got %v", res.Outcome)
	}
	if res.AutoClosed == nil || res.AutoClosed.ID != first.Shift.ID {
		t.Fatalf("expected first shift to be auto-closed, got %+v", res.AutoClosed)
	}
	if res.AutoClosed.Status != StatusAutoClosed {
		t.Errorf("status: got %v", res.AutoClosed.Status)
	}

	rows := h.sheets.rows(timesheetID, "Sheet1")
	if len(rows) != 4 {
		t.Fatalf("expected two data rows, got %v", rows)
	}
	if cell(rows, 3, 2) != "09:54 AM" || cell(rows, 3, 3) != zeroHours {
		t.Errorf("stale row not closed with zero hours: %v", rows[2])
	}
	if cell(rows, 4, 0) != "01/31/2024" || len(rows[3]) != 2 {
		t.Errorf("new shift row: %v", rows[3])
	}

	// The next clock-out closes the new shift, not the stale one.
	h.out(t, 1706630094+86400+3600)
	rows = h.sheets.rows(masterID, "Joe Shmoe")
	if cell(rows, 4, 2) != "10:54 AM" {
		t.Errorf("clock-out went to the wrong row: %v", rows)
	}
}

func TestClockOutWithoutOpenShiftAppends(t *testing.T) {
	h := newHarness(t, 2*time.Minute)

	h.in(t, 1706630094)
	h.out(t, 1706630094+3600)
	res := h.out(t, 1706630094+7200)
	if res.Outcome != OutcomeClosed || res.Shift.Status != StatusMissingClockIn {
		t.Fatalf("unexpected result %+v", res)
	}

	rows := h.sheets.rows(timesheetID, "Sheet1")
	if len(rows) != 4 {
		t.Fatalf("expected a new row, got %v", rows)
	}
	if cell(rows, 3, 2) != "10:54 AM" {
		t.Errorf("completed row overwritten: %v", rows[2])
	}
	if cell(rows, 4, 1) != "" || cell(rows, 4, 2) != "11:54 AM" {
		t.Errorf("missing clock-in row: %v", rows[3])
	}
}

func TestRedeliveredEventIsAlreadyRecorded(t *testing.T) {
	h := newHarness(t, 0)

	h.in(t, 1706630094)
	res := h.in(t, 1706630094)
	if res.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("outcome: got %v", res.Outcome)
	}
	h.out(t, 1706630094+60)
	if res := h.out(t, 1706630094+60); res.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("clock-out outcome: got %v", res.Outcome)
	}
	// A late copy of the clock-in must not reopen the closed shift.
	if res := h.in(t, 1706630094); res.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("late clock-in outcome: got %v", res.Outcome)
	}
	if n := h.sheets.count("append"); n != 2 {
		t.Errorf("expected 2 appends, got %d", n)
	}
	if n := h.sheets.count("update"); n != 2 {
		t.Errorf("expected 2 updates, got %d", n)
	}
}

func TestPartialFailureResumesOnlyMissingReplica(t *testing.T) {
	h := newHarness(t, 0)
	boom := errors.New("quota exceeded")
	h.sheets.fail("append", masterID, boom)

	ev := event.NewClockEvent("OnDuty Check In", event.ClockIn, joe.ID, 1706630094, h.loc)
	_, err := h.writer.ClockIn(context.Background(), joe, ev, timesheetID)
	if !errors.Is(err, boom) {
		t.Fatalf("expected master failure, got %v", err)
	}
	if got := len(h.sheets.rows(timesheetID, "Sheet1")); got != 3 {
		t.Fatalf("timesheet write should stand, got %d rows", got)
	}

	delete(h.sheets.failOn, "append "+masterID)
	res, err := h.writer.ClockIn(context.Background(), joe, ev, timesheetID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Outcome != OutcomeOpened {
		t.Errorf("outcome: got %v", res.Outcome)
	}
	if got := len(h.sheets.rows(timesheetID, "Sheet1")); got != 3 {
		t.Errorf("timesheet must not get a second row, got %d rows", got)
	}
	if got := len(h.sheets.rows(masterID, "Joe Shmoe")); got != 3 {
		t.Errorf("master should now have the row, got %d rows", got)
	}
}

func TestRedeliveredClockInFinishesAutoClose(t *testing.T) {
	h := newHarness(t, 2*time.Minute)
	boom := errors.New("quota exceeded")

	first := h.in(t, 1706630094)
	h.sheets.fail("update", masterID, boom)

	ev := event.NewClockEvent("OnDuty Check In", event.ClockIn, joe.ID, 1706630094+86400, h.loc)
	if _, err := h.writer.ClockIn(context.Background(), joe, ev, timesheetID); !errors.Is(err, boom) {
		t.Fatalf("expected master failure, got %v", err)
	}
	if rows := h.sheets.rows(masterID, "Joe Shmoe"); len(rows[2]) != 2 {
		t.Fatalf("master stale row should still be open: %v", rows)
	}

	delete(h.sheets.failOn, "update "+masterID)
	res, err := h.writer.ClockIn(context.Background(), joe, ev, timesheetID)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeOpened {
		t.Errorf("outcome: got %v", res.Outcome)
	}
	if res.AutoClosed == nil || res.AutoClosed.ID != first.Shift.ID {
		t.Errorf("expected first shift reported auto-closed, got %+v", res.AutoClosed)
	}

	for _, doc := range []struct{ id, tab string }{{timesheetID, "Sheet1"}, {masterID, "Joe Shmoe"}} {
		rows := h.sheets.rows(doc.id, doc.tab)
		if len(rows) != 4 {
			t.Fatalf("%s: expected two data rows, got %v", doc.id, rows)
		}
		if cell(rows, 3, 2) != "09:54 AM" || cell(rows, 3, 3) != zeroHours {
			t.Errorf("%s: stale row not closed with zero hours: %v", doc.id, rows[2])
		}
	}
}

func TestOutcomeChanged(t *testing.T) {
	if !OutcomeOpened.Changed() || !OutcomeClosed.Changed() {
		t.Error("opened and closed must be changes")
	}
	if OutcomeSuppressed.Changed() || OutcomeAlreadyRecorded.Changed() {
		t.Error("suppressed and already recorded must not be changes")
	}
}

func TestLegacyClockOutCreatesMissingMasterTab(t *testing.T) {
	h := newHarness(t, 0)

	res := h.out(t, 1706630094)
	if res.Shift.Status != StatusLegacy {
		t.Fatalf("status: got %v", res.Shift.Status)
	}
	if n := h.sheets.count("addSheet"); n != 1 {
		t.Errorf("expected the master tab to be created, got %d addSheet calls", n)
	}
	if res.Shift.Rows[ReplicaMaster] != 3 {
		t.Errorf("master row: got %d", res.Shift.Rows[ReplicaMaster])
	}
}
