package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const driverMemory = "memory"

// MemoryStore is an in-process Store. It backs tests and single-device
// deployments, and lets tests inject failures and duplicate deliveries.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]*Document
	feeds map[string]map[*feed]struct{}
	rev   uint64
	now   func() time.Time

	failWrites int
	failErr    error
	closed     bool

	metrics *Metrics
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for document timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:    make(map[string]*Document),
		feeds:   make(map[string]map[*feed]struct{}),
		now:     time.Now,
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read implements Store.
func (s *MemoryStore) Read(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.clone(), nil
}

// Write implements Store.
func (s *MemoryStore) Write(ctx context.Context, id string, data []byte, merge bool) (uint64, error) {
	return s.Update(ctx, id, WriteFunc(data, merge))
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	start := time.Now()
	defer func() { s.metrics.UpdateDuration.WithLabelValues(driverMemory).Observe(time.Since(start).Seconds()) }()

	rev, err := s.update(ctx, id, fn)
	s.metrics.recordWrite(driverMemory, err)
	return rev, err
}

func (s *MemoryStore) update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.failWrites > 0 {
		s.failWrites--
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, s.failErr)
	}

	var current []byte
	if doc, ok := s.docs[id]; ok {
		current = doc.Data
	}
	next, err := fn(current)
	if err != nil {
		return 0, err
	}

	s.rev++
	doc := &Document{
		ID:        id,
		Data:      append([]byte(nil), next...),
		Revision:  s.rev,
		UpdatedAt: s.now(),
	}
	s.docs[id] = doc
	s.notifyLocked(id, doc)
	return doc.Revision, nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context, id string, fn Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	f := newFeed(fn)
	if s.feeds[id] == nil {
		s.feeds[id] = make(map[*feed]struct{})
	}
	s.feeds[id][f] = struct{}{}

	if doc, ok := s.docs[id]; ok {
		f.push(doc.clone())
		s.metrics.NotificationsTotal.WithLabelValues(driverMemory).Inc()
	}

	sub := &memorySubscription{store: s, id: id, feed: f}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-f.done:
		}
	}()
	return sub, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, feeds := range s.feeds {
		for f := range feeds {
			f.stop()
		}
		delete(s.feeds, id)
	}
	return nil
}

// FailNextWrites makes the next n writes fail with ErrUnavailable wrapping
// err.
func (s *MemoryStore) FailNextWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
	s.failErr = err
}

// Redeliver sends the current document to every subscriber again.
func (s *MemoryStore) Redeliver(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		s.notifyLocked(id, doc)
	}
}

// Put stores data verbatim without validation. Tests use it to plant
// malformed documents.
func (s *MemoryStore) Put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	doc := &Document{ID: id, Data: append([]byte(nil), data...), Revision: s.rev, UpdatedAt: s.now()}
	s.docs[id] = doc
	s.notifyLocked(id, doc)
}

// Subscribers returns the number of active subscriptions on id.
func (s *MemoryStore) Subscribers(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds[id])
}

func (s *MemoryStore) notifyLocked(id string, doc *Document) {
	for f := range s.feeds[id] {
		f.push(doc.clone())
		s.metrics.NotificationsTotal.WithLabelValues(driverMemory).Inc()
	}
}

type memorySubscription struct {
	store *MemoryStore
	id    string
	feed  *feed
}

func (m *memorySubscription) Unsubscribe() error {
	m.store.mu.Lock()
	delete(m.store.feeds[m.id], m.feed)
	m.store.mu.Unlock()
	m.feed.stop()
	return nil
}
