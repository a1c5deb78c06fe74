package openpath

import (
	"sync"
	"time"

	"github.com/asmbly/odvclock/internal/volunteer"
)

type cachedVolunteer struct {
	volunteer volunteer.Volunteer
	fetchedAt time.Time
}

// VolunteerCache keeps resolved identities between invocations served by the
// same process (warm Lambda containers, the HTTP server). A zero TTL disables
// it.
type VolunteerCache struct {
	mu      sync.RWMutex
	entries map[int]cachedVolunteer
	ttl     time.Duration
	now     func() time.Time
}

func NewVolunteerCache(ttl time.Duration) *VolunteerCache {
	return &VolunteerCache{
		entries: make(map[int]cachedVolunteer),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *VolunteerCache) Get(id int) (volunteer.Volunteer, bool) {
	if c == nil || c.ttl <= 0 {
		return volunteer.Volunteer{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return volunteer.Volunteer{}, false
	}
	return e.volunteer, true
}

func (c *VolunteerCache) Set(v volunteer.Volunteer) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[v.ID] = cachedVolunteer{volunteer: v, fetchedAt: c.now()}
}

func (c *VolunteerCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int]cachedVolunteer)
}
