// Package onduty runs the clock-in/clock-out pipeline for one webhook
// event: decode, resolve the volunteer, find their timesheet, record the
// shift, then update the lobby slideshow and post to Slack.
package onduty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/ledger"
	"github.com/asmbly/odvclock/internal/store"
	"github.com/asmbly/odvclock/internal/upstream"
	"github.com/asmbly/odvclock/internal/volunteer"
)

type Resolver interface {
	Resolve(ctx context.Context, id int) (volunteer.Volunteer, error)
}

type Locator interface {
	FindOrCreate(ctx context.Context, v volunteer.Volunteer) (id string, created bool, err error)
}

type Ledger interface {
	ClockIn(ctx context.Context, v volunteer.Volunteer, ev event.ClockEvent, timesheetID string) (ledger.Result, error)
	ClockOut(ctx context.Context, v volunteer.Volunteer, ev event.ClockEvent, timesheetID string) (ledger.Result, error)
}

type Signage interface {
	Add(ctx context.Context, v volunteer.Volunteer) error
	Remove(ctx context.Context, v volunteer.Volunteer) error
}

type Notifier interface {
	ResolveHandle(ctx context.Context, v volunteer.Volunteer) string
	Announce(ctx context.Context, kind event.Kind, v volunteer.Volunteer, handle string)
}

// EventLog records handled events so failures can be retried.
type EventLog interface {
	RecordEvent(ctx context.Context, e *store.Event) (int64, error)
	FinishEvent(ctx context.Context, id int64, status, errMsg string) error
	FailedEvents(ctx context.Context) ([]store.Event, error)
}

// Response is returned to the webhook caller.
type Response struct {
	StatusCode int `json:"statusCode"`
}

// Deps are the pipeline stages. Events may be nil, in which case nothing
// is logged for retry.
type Deps struct {
	Decoder  *event.Decoder
	Resolver Resolver
	Locator  Locator
	Ledger   Ledger
	Signage  Signage
	Notifier Notifier
	Events   EventLog
	Metrics  *Metrics
}

type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	return &Handler{deps: deps, logger: logger}
}

// Handle processes a trigger record ({"body": ...}).
func (h *Handler) Handle(ctx context.Context, raw []byte) (Response, error) {
	ev, err := h.deps.Decoder.Decode(raw)
	return h.dispatch(ctx, ev, err, raw)
}

// HandleBody processes a bare payload, as posted to the HTTP server.
func (h *Handler) HandleBody(ctx context.Context, body []byte) (Response, error) {
	ev, err := h.deps.Decoder.DecodeBody(body)
	return h.dispatch(ctx, ev, err, body)
}

func (h *Handler) dispatch(ctx context.Context, ev event.ClockEvent, decodeErr error, raw []byte) (Response, error) {
	start := time.Now()
	defer func() { h.deps.Metrics.Duration.Observe(time.Since(start).Seconds()) }()

	if decodeErr != nil {
		var authErr *event.AuthorizationError
		if errors.As(decodeErr, &authErr) {
			h.count(event.Other, "unauthorized")
			return Response{StatusCode: 400}, nil
		}
		h.count(event.Other, "malformed")
		return Response{}, decodeErr
	}

	if ev.Kind == event.Other {
		h.logger.Info("Entry is not a clock button, ignoring", "entryId", ev.Entry)
		h.count(ev.Kind, "ignored")
		return Response{StatusCode: 200}, nil
	}

	id := h.record(ctx, ev, raw)
	outcome, err := h.process(ctx, ev, true)
	h.finish(ctx, id, err)
	if err != nil {
		h.fail(ev, err)
		return Response{}, err
	}

	h.count(ev.Kind, outcome.String())
	return Response{StatusCode: 200}, nil
}

// process runs identity, timesheet, ledger and, when the ledger moved,
// signage and chat. Chat is sent even when signage fails; the signage
// error is still returned so the event is logged for retry.
func (h *Handler) process(ctx context.Context, ev event.ClockEvent, notify bool) (ledger.Outcome, error) {
	v, err := h.deps.Resolver.Resolve(ctx, ev.UserID)
	if err != nil {
		return 0, fmt.Errorf("resolving volunteer %d: %w", ev.UserID, err)
	}
	h.logger.Info("Volunteer: " + v.FullName)

	sheetID, created, err := h.deps.Locator.FindOrCreate(ctx, v)
	if err != nil {
		return 0, fmt.Errorf("locating timesheet: %w", err)
	}
	if created {
		h.logger.Info("Created timesheet for new volunteer", "volunteer", v.FullName, "spreadsheet_id", sheetID)
	}

	var res ledger.Result
	switch ev.Kind {
	case event.ClockIn:
		res, err = h.deps.Ledger.ClockIn(ctx, v, ev, sheetID)
	case event.ClockOut:
		res, err = h.deps.Ledger.ClockOut(ctx, v, ev, sheetID)
	}
	if err != nil {
		return 0, fmt.Errorf("recording %s: %w", ev.Kind, err)
	}
	if res.AutoClosed != nil {
		h.logger.Warn("Previous shift had no clock-out and was closed with zero hours",
			"volunteer", v.FullName, "date", res.AutoClosed.Date, "time_in", res.AutoClosed.TimeIn)
	}
	if !res.Outcome.Changed() {
		if current(ev, res) {
			// A redelivery or retry of an event whose signage step may have
			// failed. Signage is idempotent; chat already went out.
			h.logger.Info("Event already recorded, re-applying signage", "key", ev.Key())
			return res.Outcome, h.updateSignage(ctx, ev.Kind, v)
		}
		h.logger.Info("Ledger unchanged, skipping signage and chat", "outcome", res.Outcome.String())
		return res.Outcome, nil
	}

	err = h.updateSignage(ctx, ev.Kind, v)
	if err != nil {
		h.logger.Error("Slideshow update failed, announcing anyway", "volunteer", v.FullName, "error", err)
	}

	if notify && h.deps.Notifier != nil {
		handle := h.deps.Notifier.ResolveHandle(ctx, v)
		h.deps.Notifier.Announce(ctx, ev.Kind, v, handle)
	}

	return res.Outcome, err
}

func (h *Handler) updateSignage(ctx context.Context, kind event.Kind, v volunteer.Volunteer) error {
	if h.deps.Signage == nil {
		return nil
	}
	var err error
	if kind == event.ClockIn {
		err = h.deps.Signage.Add(ctx, v)
	} else {
		err = h.deps.Signage.Remove(ctx, v)
	}
	if err != nil {
		return fmt.Errorf("updating slideshow: %w", err)
	}
	return nil
}

// current reports whether an already recorded event is still the latest
// change to its shift. A clock-in whose shift has since closed, or a
// clock-out followed by a new clock-in, is not.
func current(ev event.ClockEvent, res ledger.Result) bool {
	s := res.Shift
	if res.Outcome != ledger.OutcomeAlreadyRecorded || s == nil {
		return false
	}
	switch ev.Kind {
	case event.ClockIn:
		return s.Open() && s.ClockInKey == ev.Key()
	case event.ClockOut:
		return !s.Open() && s.ClockOutKey == ev.Key()
	}
	return false
}

// RetrySummary counts the events a Retry run touched.
type RetrySummary struct {
	Retried   int
	Succeeded int
	Failed    int
}

// Retry re-runs failed events from the event log. Slack is not notified
// again; the applied markers keep ledger writes from being repeated.
func (h *Handler) Retry(ctx context.Context) (RetrySummary, error) {
	var sum RetrySummary
	if h.deps.Events == nil {
		return sum, fmt.Errorf("no event log configured")
	}

	failed, err := h.deps.Events.FailedEvents(ctx)
	if err != nil {
		return sum, fmt.Errorf("loading failed events: %w", err)
	}

	for _, rec := range failed {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Retried++
		ev := h.deps.Decoder.Rebuild(rec.Entry, rec.UserID, rec.Timestamp)
		if ev.Kind == event.Other {
			h.logger.Warn("Logged event no longer matches a clock entry, skipping", "id", rec.ID, "entryId", rec.Entry)
			h.finish(ctx, rec.ID, nil)
			continue
		}

		id := h.record(ctx, ev, []byte(rec.Payload))
		outcome, err := h.process(ctx, ev, false)
		h.finish(ctx, id, err)
		if err != nil {
			sum.Failed++
			h.fail(ev, err)
			continue
		}
		sum.Succeeded++
		h.count(ev.Kind, outcome.String())
		h.logger.Info("Retried event", "key", ev.Key(), "outcome", outcome.String())
	}
	return sum, nil
}

func (h *Handler) record(ctx context.Context, ev event.ClockEvent, raw []byte) int64 {
	if h.deps.Events == nil {
		return 0
	}
	id, err := h.deps.Events.RecordEvent(ctx, &store.Event{
		Key:       ev.Key(),
		Entry:     ev.Entry,
		Kind:      ev.Kind.String(),
		UserID:    ev.UserID,
		Timestamp: ev.Timestamp,
		Payload:   event.Redact(raw),
	})
	if err != nil {
		h.logger.Warn("Could not record event", "key", ev.Key(), "error", err)
		return 0
	}
	return id
}

func (h *Handler) finish(ctx context.Context, id int64, err error) {
	if h.deps.Events == nil || id == 0 {
		return
	}
	status, msg := store.EventDone, ""
	if err != nil {
		status, msg = store.EventFailed, upstream.Truncate(err.Error(), 500)
	}
	if ferr := h.deps.Events.FinishEvent(ctx, id, status, msg); ferr != nil {
		h.logger.Warn("Could not update event log", "id", id, "error", ferr)
	}
}

func (h *Handler) fail(ev event.ClockEvent, err error) {
	h.logger.Error("Handling event failed", "key", ev.Key(), "error", err)
	h.count(ev.Kind, "error")
	if svc := upstream.ServiceOf(err); svc != "" {
		h.deps.Metrics.UpstreamErrors.WithLabelValues(svc).Inc()
	}
}

func (h *Handler) count(kind event.Kind, outcome string) {
	h.deps.Metrics.Events.WithLabelValues(kind.String(), outcome).Inc()
}
