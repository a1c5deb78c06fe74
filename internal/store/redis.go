package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asmbly/odvclock/internal/ledger"
)

const (
	DefaultRedisPrefix = "odvclock:"
	// markerTTL bounds how long applied markers are kept. Redeliveries
	// arrive within minutes; a month covers operator retries.
	markerTTL = 30 * 24 * time.Hour
)

// Redis keeps the same records as DB in a Redis server so that concurrent
// Lambda instances share one side index.
type Redis struct {
	Client *redis.Client
	prefix string
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr, password string, db int, prefix string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{Client: client, prefix: prefix}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// PingContext matches sql.DB so either backend can back a health check.
func (r *Redis) PingContext(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *Redis) LastShift(ctx context.Context, volunteerID int) (*ledger.Shift, error) {
	id, err := r.Client.LIndex(ctx, r.key("volunteer", strconv.Itoa(volunteerID), "shifts"), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last shift id: %w", err)
	}

	data, err := r.Client.HGet(ctx, r.key("shifts"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading shift %s: %w", id, err)
	}

	var s ledger.Shift
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decoding shift %s: %w", id, err)
	}
	return &s, nil
}

func (r *Redis) SaveShift(ctx context.Context, s *ledger.Shift) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding shift: %w", err)
	}

	id := s.ID.String()
	created, err := r.Client.HSetNX(ctx, r.key("shifts"), id, data).Result()
	if err != nil {
		return fmt.Errorf("saving shift %s: %w", id, err)
	}
	if created {
		if err := r.Client.RPush(ctx, r.key("volunteer", strconv.Itoa(s.VolunteerID), "shifts"), id).Err(); err != nil {
			return fmt.Errorf("indexing shift %s: %w", id, err)
		}
		return nil
	}
	if err := r.Client.HSet(ctx, r.key("shifts"), id, data).Err(); err != nil {
		return fmt.Errorf("saving shift %s: %w", id, err)
	}
	return nil
}

// ListShifts mirrors DB.ListShifts.
func (r *Redis) ListShifts(ctx context.Context, since time.Time, openOnly bool) ([]ledger.Shift, error) {
	all, err := r.Client.HVals(ctx, r.key("shifts")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing shifts: %w", err)
	}

	var out []ledger.Shift
	for _, data := range all {
		var s ledger.Shift
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decoding shift: %w", err)
		}
		if openOnly && !s.Open() {
			continue
		}
		if shiftStart(s).Before(since) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return shiftStart(out[i]).Before(shiftStart(out[j]))
	})
	return out, nil
}

func shiftStart(s ledger.Shift) time.Time {
	if !s.ClockInAt.IsZero() {
		return s.ClockInAt
	}
	return s.ClockOutAt
}

func (r *Redis) Applied(ctx context.Context, eventKey string, replica ledger.Replica) (bool, error) {
	n, err := r.Client.Exists(ctx, r.key("applied", eventKey, string(replica))).Result()
	if err != nil {
		return false, fmt.Errorf("reading applied marker: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) MarkApplied(ctx context.Context, eventKey string, replica ledger.Replica) error {
	if err := r.Client.Set(ctx, r.key("applied", eventKey, string(replica)), time.Now().UTC().Format(time.RFC3339), markerTTL).Err(); err != nil {
		return fmt.Errorf("writing applied marker: %w", err)
	}
	return nil
}

// RecordEvent mirrors DB.RecordEvent.
func (r *Redis) RecordEvent(ctx context.Context, e *Event) (int64, error) {
	byKey := r.key("event-keys")
	if existing, err := r.Client.HGet(ctx, byKey, e.Key).Int64(); err == nil {
		stored, err := r.loadEvent(ctx, existing)
		if err != nil {
			return 0, err
		}
		stored.Status = EventPending
		stored.Attempts++
		stored.UpdatedAt = time.Now().UTC()
		return existing, r.saveEvent(ctx, stored)
	} else if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("looking up event: %w", err)
	}

	id, err := r.Client.Incr(ctx, r.key("event-seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("allocating event id: %w", err)
	}
	now := time.Now().UTC()
	rec := *e
	rec.ID = id
	rec.Status = EventPending
	rec.Attempts = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := r.saveEvent(ctx, &rec); err != nil {
		return 0, err
	}
	if err := r.Client.HSet(ctx, byKey, e.Key, id).Err(); err != nil {
		return 0, fmt.Errorf("indexing event: %w", err)
	}
	return id, nil
}

// FinishEvent mirrors DB.FinishEvent.
func (r *Redis) FinishEvent(ctx context.Context, id int64, status, errMsg string) error {
	e, err := r.loadEvent(ctx, id)
	if err != nil {
		return err
	}
	e.Status = status
	e.Error = errMsg
	e.UpdatedAt = time.Now().UTC()
	if err := r.saveEvent(ctx, e); err != nil {
		return err
	}

	failed := r.key("events-failed")
	member := strconv.FormatInt(id, 10)
	if status == EventFailed {
		return r.Client.ZAdd(ctx, failed, redis.Z{Score: float64(id), Member: member}).Err()
	}
	return r.Client.ZRem(ctx, failed, member).Err()
}

// FailedEvents mirrors DB.FailedEvents.
func (r *Redis) FailedEvents(ctx context.Context) ([]Event, error) {
	ids, err := r.Client.ZRange(ctx, r.key("events-failed"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing failed events: %w", err)
	}

	events := make([]Event, 0, len(ids))
	for _, s := range ids {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		e, err := r.loadEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, nil
}

func (r *Redis) loadEvent(ctx context.Context, id int64) (*Event, error) {
	data, err := r.Client.Get(ctx, r.key("event", strconv.FormatInt(id, 10))).Result()
	if err != nil {
		return nil, fmt.Errorf("reading event %d: %w", id, err)
	}
	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("decoding event %d: %w", id, err)
	}
	return &e, nil
}

func (r *Redis) saveEvent(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.Client.Set(ctx, r.key("event", strconv.FormatInt(e.ID, 10)), data, 0).Err(); err != nil {
		return fmt.Errorf("saving event %d: %w", e.ID, err)
	}
	return nil
}

var _ ledger.StateStore = (*Redis)(nil)
