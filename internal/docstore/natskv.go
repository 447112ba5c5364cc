package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const driverNATS = "nats"

// KVConfig configures the JetStream key-value bucket.
type KVConfig struct {
	Bucket   string
	History  uint8
	Replicas int
}

// KVStore is a Store backed by a NATS JetStream key-value bucket. Document
// revisions are the bucket's per-key sequence numbers and timestamps are set
// by the server.
type KVStore struct {
	nc    *nats.Conn
	kv    nats.KeyValue
	owned bool

	mu     sync.Mutex
	subs   map[*kvSubscription]struct{}
	closed bool

	metrics *Metrics
}

// NewKVStore opens, creating if needed, the bucket on an existing connection.
func NewKVStore(nc *nats.Conn, cfg KVConfig) (*KVStore, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		history := cfg.History
		if history == 0 {
			history = 5
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "roomsync shared documents",
			History:     history,
			Replicas:    cfg.Replicas,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening bucket %s: %w", cfg.Bucket, err)
	}

	return &KVStore{
		nc:      nc,
		kv:      kv,
		subs:    make(map[*kvSubscription]struct{}),
		metrics: NewMetrics(),
	}, nil
}

// DialKV connects to url and opens the bucket. The connection is closed with
// the store.
func DialKV(url string, cfg KVConfig, opts ...nats.Option) (*KVStore, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s, err := NewKVStore(nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Read implements Store.
func (s *KVStore) Read(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(id)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entryDocument(entry), nil
}

// Write implements Store.
func (s *KVStore) Write(ctx context.Context, id string, data []byte, merge bool) (uint64, error) {
	return s.Update(ctx, id, WriteFunc(data, merge))
}

// Update implements Store as a compare-and-swap loop on the key revision.
func (s *KVStore) Update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	start := time.Now()
	defer func() { s.metrics.UpdateDuration.WithLabelValues(driverNATS).Observe(time.Since(start).Seconds()) }()

	rev, err := s.update(ctx, id, fn)
	s.metrics.recordWrite(driverNATS, err)
	return rev, err
}

func (s *KVStore) update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var (
			current []byte
			lastRev uint64
			exists  bool
		)
		entry, err := s.kv.Get(id)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
		case err != nil:
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			current = entry.Value()
			lastRev = entry.Revision()
			exists = true
		}

		next, err := fn(current)
		if err != nil {
			return 0, err
		}

		var rev uint64
		if exists {
			rev, err = s.kv.Update(id, next, lastRev)
		} else {
			rev, err = s.kv.Create(id, next)
		}
		if err == nil {
			return rev, nil
		}
		if !isRevisionConflict(err) {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.metrics.ConflictsTotal.WithLabelValues(driverNATS).Inc()
	}
	return 0, ErrConflict
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

// Subscribe implements Store with a key watcher. The watcher replays the
// latest value first, then streams every put.
func (s *KVStore) Subscribe(ctx context.Context, id string, fn Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	w, err := s.kv.Watch(id)
	if err != nil {
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, id, err)
	}

	sub := &kvSubscription{store: s, watcher: w, done: make(chan struct{})}
	s.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	go func() {
		for entry := range w.Updates() {
			// A nil entry marks the end of the initial replay.
			if entry == nil || entry.Operation() != nats.KeyValuePut {
				continue
			}
			select {
			case <-sub.done:
				return
			default:
			}
			s.metrics.NotificationsTotal.WithLabelValues(driverNATS).Inc()
			fn(entryDocument(entry))
		}
	}()
	return sub, nil
}

// Close implements Store.
func (s *KVStore) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*kvSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if s.owned {
		s.nc.Close()
	}
	return nil
}

func entryDocument(e nats.KeyValueEntry) *Document {
	return &Document{
		ID:        e.Key(),
		Data:      append([]byte(nil), e.Value()...),
		Revision:  e.Revision(),
		UpdatedAt: e.Created(),
	}
}

type kvSubscription struct {
	store   *KVStore
	watcher nats.KeyWatcher
	done    chan struct{}
	once    sync.Once
}

func (k *kvSubscription) Unsubscribe() error {
	var err error
	k.once.Do(func() {
		close(k.done)
		k.store.mu.Lock()
		delete(k.store.subs, k)
		k.store.mu.Unlock()
		err = k.watcher.Stop()
	})
	return err
}
