package store

import (
	"context"
	"fmt"
	"time"

	"github.com/asmbly/odvclock/internal/ledger"
)

// Store is the full persistence surface, implemented by DB and Redis.
type Store interface {
	ledger.StateStore
	ListShifts(ctx context.Context, since time.Time, openOnly bool) ([]ledger.Shift, error)
	RecordEvent(ctx context.Context, e *Event) (int64, error)
	FinishEvent(ctx context.Context, id int64, status, errMsg string) error
	FailedEvents(ctx context.Context) ([]Event, error)
	PingContext(ctx context.Context) error
	Close() error
}

type Options struct {
	// Backend is "sqlite" (default) or "redis".
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New opens the configured backend.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "sqlite":
		return Open(opts.Path)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("store.redis_addr is required for the redis backend")
		}
		r := NewRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
		if !r.Healthy(ctx) {
			r.Close()
			return nil, fmt.Errorf("connecting to redis at %s", opts.RedisAddr)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Redis)(nil)
)
