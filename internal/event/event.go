package event

import (
	"fmt"
	"time"
)

// Kind classifies an Openpath entry by the configured entry names.
type Kind int

const (
	// Other is any door entry that is not one of the clock buttons.
	Other Kind = iota
	ClockIn
	ClockOut
)

func (k Kind) String() string {
	switch k {
	case ClockIn:
		return "clock_in"
	case ClockOut:
		return "clock_out"
	default:
		return "other"
	}
}

const (
	dateLayout  = "01/02/2006"
	clockLayout = "03:04 PM"
)

// ClockEvent is a decoded door-controller event.
type ClockEvent struct {
	Entry     string
	Kind      Kind
	UserID    int
	Timestamp int64
	// At is Timestamp in the site's local zone.
	At time.Time
}

// NewClockEvent builds an event, converting the epoch timestamp into loc.
func NewClockEvent(entry string, kind Kind, userID int, timestamp int64, loc *time.Location) ClockEvent {
	if loc == nil {
		loc = time.UTC
	}
	return ClockEvent{
		Entry:     entry,
		Kind:      kind,
		UserID:    userID,
		Timestamp: timestamp,
		At:        time.Unix(timestamp, 0).In(loc),
	}
}

// Date is the ledger cell value for the Date column.
func (e ClockEvent) Date() string {
	return e.At.Format(dateLayout)
}

// Clock is the ledger cell value for the Time In / Time Out columns.
func (e ClockEvent) Clock() string {
	return e.At.Format(clockLayout)
}

// Key identifies the event for idempotency checks. A redelivered trigger has
// the same key as the original.
func (e ClockEvent) Key() string {
	return fmt.Sprintf("%d:%d:%s", e.UserID, e.Timestamp, e.Kind)
}
