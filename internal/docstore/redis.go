package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const driverRedis = "redis"

// RedisConfig configures the Redis document store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys and channels, e.g. "roomsync:".
	Prefix string
}

// RedisStore is a Store on Redis. Each document is a hash holding the data,
// revision and server timestamp; changes are announced on a pub/sub channel
// per document.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool

	metrics *Metrics
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		subs:    make(map[*redisSubscription]struct{}),
		metrics: NewMetrics(),
	}
}

// DialRedis connects and pings the server. The client is closed with the
// store.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %v", ErrUnavailable, cfg.Addr, err)
	}
	s := NewRedisStore(client, cfg.Prefix)
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(id string) string     { return s.prefix + "doc:" + id }
func (s *RedisStore) channel(id string) string { return s.prefix + "changes:" + id }

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, id string) (*Document, error) {
	doc, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *RedisStore) read(ctx context.Context, c hashReader, id string) (*Document, error) {
	fields, err := c.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rev, err := strconv.ParseUint(fields["rev"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad revision for %s", ErrInvalidDocument, id)
	}
	ts, _ := strconv.ParseInt(fields["ts"], 10, 64)
	return &Document{
		ID:        id,
		Data:      []byte(fields["data"]),
		Revision:  rev,
		UpdatedAt: time.Unix(0, ts).UTC(),
	}, nil
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, id string, data []byte, merge bool) (uint64, error) {
	return s.Update(ctx, id, WriteFunc(data, merge))
}

// Update implements Store with WATCH/MULTI optimistic locking.
func (s *RedisStore) Update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	start := time.Now()
	defer func() { s.metrics.UpdateDuration.WithLabelValues(driverRedis).Observe(time.Since(start).Seconds()) }()

	rev, err := s.update(ctx, id, fn)
	s.metrics.recordWrite(driverRedis, err)
	return rev, err
}

func (s *RedisStore) update(ctx context.Context, id string, fn MutateFunc) (uint64, error) {
	key := s.key(id)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var (
			rev       uint64
			mutateErr error
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.read(ctx, tx, id)
			if err != nil {
				return err
			}
			var current []byte
			if doc != nil {
				current = doc.Data
				rev = doc.Revision
			}

			next, err := fn(current)
			if err != nil {
				mutateErr = err
				return err
			}

			now, err := tx.Time(ctx).Result()
			if err != nil {
				return err
			}
			rev++
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "data", next, "rev", rev, "ts", now.UnixNano())
				pipe.Publish(ctx, s.channel(id), rev)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return rev, nil
		case mutateErr != nil:
			return 0, mutateErr
		case errors.Is(err, redis.TxFailedErr):
			s.metrics.ConflictsTotal.WithLabelValues(driverRedis).Inc()
			continue
		case errors.Is(err, ErrUnavailable), errors.Is(err, ErrInvalidDocument):
			return 0, err
		case ctx.Err() != nil:
			return 0, ctx.Err()
		default:
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return 0, ErrConflict
}

// Subscribe implements Store. Notifications carry only the revision; the
// subscriber re-reads the document so it always sees the latest content.
func (s *RedisStore) Subscribe(ctx context.Context, id string, fn Handler) (Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	pubsub := s.client.Subscribe(ctx, s.channel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, id, err)
	}

	sub := &redisSubscription{store: s, pubsub: pubsub, feed: newFeed(fn)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	deliver := func() {
		doc, err := s.Read(context.Background(), id)
		if err != nil {
			return
		}
		s.metrics.NotificationsTotal.WithLabelValues(driverRedis).Inc()
		sub.feed.push(doc)
	}
	deliver()

	msgs := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case <-sub.feed.done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return sub, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*redisSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if s.owned {
		return s.client.Close()
	}
	return nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

type redisSubscription struct {
	store  *RedisStore
	pubsub *redis.PubSub
	feed   *feed
	once   sync.Once
}

func (r *redisSubscription) Unsubscribe() error {
	var err error
	r.once.Do(func() {
		r.store.mu.Lock()
		delete(r.store.subs, r)
		r.store.mu.Unlock()
		r.feed.stop()
		err = r.pubsub.Close()
	})
	return err
}
