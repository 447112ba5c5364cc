// Package lease tracks short-lived, device-local claims on entity fields.
//
// A lease is taken when a local mutation is queued and protects the edited
// fields from being overwritten by remote snapshots until the write lands or
// the lease expires. Leases are advisory and never leave the device.
package lease

import (
	"sync"
	"time"
)

// DefaultGrace is the lifetime of a lease that is not extended.
const DefaultGrace = 5 * time.Second

// Lease is a claim on some fields of one entity.
type Lease struct {
	EntityID  string
	Fields    []string
	Holder    string
	ExpiresAt time.Time

	id uint64
}

// Checker answers whether a field is currently protected.
type Checker interface {
	IsLeased(entityID, field string) bool
}

// Tracker holds the active leases of one device. It is safe for concurrent
// use.
type Tracker struct {
	mu     sync.Mutex
	holder string
	grace  time.Duration
	now    func() time.Time
	nextID uint64
	// leases maps entity -> field -> newest lease on that field.
	leases map[string]map[string]*Lease
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker whose leases are held by holder, normally the
// device id.
func NewTracker(holder string, opts ...Option) *Tracker {
	t := &Tracker{
		holder: holder,
		grace:  DefaultGrace,
		now:    time.Now,
		leases: make(map[string]map[string]*Lease),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire takes a lease on fields of entityID. A newer lease on a field
// supersedes older ones.
func (t *Tracker) Acquire(entityID string, fields ...string) *Lease {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	l := &Lease{
		EntityID:  entityID,
		Fields:    append([]string(nil), fields...),
		Holder:    t.holder,
		ExpiresAt: t.now().Add(t.grace),
		id:        t.nextID,
	}
	byField := t.leases[entityID]
	if byField == nil {
		byField = make(map[string]*Lease, len(fields))
		t.leases[entityID] = byField
	}
	for _, f := range fields {
		byField[f] = l
	}
	return l
}

// Release drops l on the fields it still holds. Fields since taken over by a
// newer lease stay protected.
func (t *Tracker) Release(l *Lease) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	byField := t.leases[l.EntityID]
	for _, f := range l.Fields {
		if cur, ok := byField[f]; ok && cur.id == l.id {
			delete(byField, f)
		}
	}
	if len(byField) == 0 {
		delete(t.leases, l.EntityID)
	}
}

// Extend pushes the expiry of l to at least d from now. It reports false if
// l no longer holds any field.
func (t *Tracker) Extend(l *Lease, d time.Duration) bool {
	if l == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	held := false
	for _, f := range l.Fields {
		if cur, ok := t.leases[l.EntityID][f]; ok && cur.id == l.id {
			held = true
		}
	}
	if !held {
		return false
	}
	if until := t.now().Add(d); until.After(l.ExpiresAt) {
		l.ExpiresAt = until
	}
	return true
}

// IsLeased reports whether field of entityID is under an unexpired lease.
func (t *Tracker) IsLeased(entityID, field string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[entityID][field]
	return ok && t.now().Before(l.ExpiresAt)
}

// Leased returns the names of the leased fields of entityID.
func (t *Tracker) Leased(entityID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var fields []string
	for f, l := range t.leases[entityID] {
		if now.Before(l.ExpiresAt) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Sweep forgets expired leases and returns how many field claims it dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dropped := 0
	for entity, byField := range t.leases {
		for f, l := range byField {
			if !now.Before(l.ExpiresAt) {
				delete(byField, f)
				dropped++
			}
		}
		if len(byField) == 0 {
			delete(t.leases, entity)
		}
	}
	return dropped
}

// Clear drops every lease. A roster reset uses it.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leases = make(map[string]map[string]*Lease)
}

// Active returns the number of entities with at least one live lease.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for _, byField := range t.leases {
		for _, l := range byField {
			if now.Before(l.ExpiresAt) {
				n++
				break
			}
		}
	}
	return n
}
