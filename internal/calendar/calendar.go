// Package calendar exports recorded shifts as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/asmbly/odvclock/internal/ledger"
)

const productID = "-//Asmbly//odvclock//EN"

// Event is one exported shift.
type Event struct {
	UID       string
	Summary   string
	Status    ledger.Status
	StartTime time.Time
	EndTime   time.Time
}

// FromShifts converts shifts with both a clock-in and a clock-out. Open
// shifts and clock-outs without a clock-in have no span and are skipped.
func FromShifts(shifts []ledger.Shift) []Event {
	var events []Event
	for _, s := range shifts {
		if s.ClockInAt.IsZero() || s.ClockOutAt.IsZero() {
			continue
		}
		summary := "On duty: " + s.Volunteer
		if s.Status == ledger.StatusAutoClosed {
			summary += " (no clock-out)"
		}
		events = append(events, Event{
			UID:       s.ID.String() + "@odvclock",
			Summary:   summary,
			Status:    s.Status,
			StartTime: s.ClockInAt,
			EndTime:   s.ClockOutAt,
		})
	}
	return events
}

// Encode writes events as a single VCALENDAR. stamp is used for DTSTAMP.
func Encode(w io.Writer, events []Event, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, e := range events {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.UID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
		ev.Props.SetText(ical.PropSummary, e.Summary)
		ev.Props.SetText(ical.PropDescription, "Status: "+string(e.Status))
		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	return nil
}

// GroupByDay groups events by date string (YYYY-MM-DD in loc).
func GroupByDay(events []Event, loc *time.Location) map[string][]Event {
	grouped := make(map[string][]Event)
	for _, e := range events {
		key := e.StartTime.In(loc).Format("2006-01-02")
		grouped[key] = append(grouped[key], e)
	}
	return grouped
}
