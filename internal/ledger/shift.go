package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a shift in the side index.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	// StatusAutoClosed marks a shift that was still open when the volunteer
	// clocked in again. It is closed with zero hours.
	StatusAutoClosed Status = "auto-closed"
	// StatusMissingClockIn marks a clock-out with no open shift to close.
	StatusMissingClockIn Status = "missing-clock-in"
	// StatusLegacy marks a clock-out written by row counting because the
	// side index had no record for the volunteer.
	StatusLegacy Status = "legacy"
)

// Replica names one of the two documents every shift is written to.
type Replica string

const (
	ReplicaTimesheet Replica = "timesheet"
	ReplicaMaster    Replica = "master"
)

// Replicas lists the replicas in write order.
var Replicas = []Replica{ReplicaTimesheet, ReplicaMaster}

// Shift is the side-index record of one on-duty shift. Rows holds the sheet
// row the shift occupies in each replica; a missing entry means the row is
// unknown and row counting is used instead.
type Shift struct {
	ID          uuid.UUID
	VolunteerID int
	Volunteer   string
	Status      Status
	Date        string
	TimeIn      string
	TimeOut     string
	ClockInAt   time.Time
	ClockOutAt  time.Time
	ClockInKey  string
	ClockOutKey string
	Rows        map[Replica]int
}

// Open reports whether the shift is waiting for a clock-out.
func (s *Shift) Open() bool {
	return s.Status == StatusOpen
}

// Hours is the recorded shift length, zero for open or incomplete shifts.
func (s *Shift) Hours() time.Duration {
	if s.ClockInAt.IsZero() || s.ClockOutAt.IsZero() || s.ClockOutAt.Before(s.ClockInAt) {
		return 0
	}
	return s.ClockOutAt.Sub(s.ClockInAt)
}

func newShift(volunteerID int, name string) *Shift {
	return &Shift{
		ID:          uuid.New(),
		VolunteerID: volunteerID,
		Volunteer:   name,
		Rows:        map[Replica]int{},
	}
}

// StateStore persists the side index and the per-replica applied markers.
// LastShift returns nil, nil when the volunteer has no recorded shift.
type StateStore interface {
	LastShift(ctx context.Context, volunteerID int) (*Shift, error)
	SaveShift(ctx context.Context, s *Shift) error
	Applied(ctx context.Context, eventKey string, replica Replica) (bool, error)
	MarkApplied(ctx context.Context, eventKey string, replica Replica) error
}
