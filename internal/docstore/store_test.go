package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name   string
		target string
		patch  string
		want   string
	}{
		{"adds member", `{"a":"b"}`, `{"c":"d"}`, `{"a":"b","c":"d"}`},
		{"replaces member", `{"a":"b"}`, `{"a":"c"}`, `{"a":"c"}`},
		{"null deletes", `{"a":"b","c":"d"}`, `{"a":null}`, `{"c":"d"}`},
		{"merges nested", `{"rooms":{"101":{"status":"vacant","remark":"x"}}}`, `{"rooms":{"101":{"status":"cleaned"}}}`, `{"rooms":{"101":{"remark":"x","status":"cleaned"}}}`},
		{"arrays replace", `{"a":[1,2]}`, `{"a":[3]}`, `{"a":[3]}`},
		{"empty target", ``, `{"a":{"b":null,"c":1}}`, `{"a":{"c":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergePatch([]byte(tt.target), []byte(tt.patch))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	t.Run("rejects invalid patch", func(t *testing.T) {
		_, err := MergePatch(nil, []byte(`{`))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("rejects invalid target", func(t *testing.T) {
		_, err := MergePatch([]byte(`{"a":`), []byte(`{"b":1}`))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}

// recorder collects snapshots delivered to a subscription.
type recorder struct {
	mu   sync.Mutex
	docs []*Document
}

func (r *recorder) handle(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
}

func (r *recorder) all() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Document(nil), r.docs...)
}

func (r *recorder) last() *Document {
	docs := r.all()
	if len(docs) == 0 {
		return nil
	}
	return docs[len(docs)-1]
}

// runStoreContract exercises behavior every driver must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("read missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("replace and merge", func(t *testing.T) {
		s := newStore(t)
		rev1, err := s.Write(ctx, "roster", []byte(`{"rooms":{"101":{"status":"vacant","remark":"x"}}}`), false)
		require.NoError(t, err)

		rev2, err := s.Write(ctx, "roster", []byte(`{"rooms":{"101":{"status":"cleaned","remark":null}}}`), true)
		require.NoError(t, err)
		assert.Greater(t, rev2, rev1)

		doc, err := s.Read(ctx, "roster")
		require.NoError(t, err)
		assert.JSONEq(t, `{"rooms":{"101":{"status":"cleaned"}}}`, string(doc.Data))
		assert.Equal(t, rev2, doc.Revision)
		assert.False(t, doc.UpdatedAt.IsZero())
	})

	t.Run("rejects non-object", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Write(ctx, "roster", []byte(`[1,2]`), false)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("mutate error passes through", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		_, err := s.Update(ctx, "roster", func([]byte) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		_, err = s.Read(ctx, "roster")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent updates do not lose increments", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "counter", func(current []byte) ([]byte, error) {
					var v struct{ N int }
					if current != nil {
						if err := json.Unmarshal(current, &v); err != nil {
							return nil, err
						}
					}
					v.N++
					return json.Marshal(v)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		doc, err := s.Read(ctx, "counter")
		require.NoError(t, err)
		assert.JSONEq(t, `{"N":8}`, string(doc.Data))
	})

	t.Run("subscribe delivers current then changes", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Write(ctx, "notes", []byte(`{"text":"one"}`), false)
		require.NoError(t, err)

		rec := &recorder{}
		sub, err := s.Subscribe(ctx, "notes", rec.handle)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			d := rec.last()
			return d != nil && string(d.Data) == `{"text":"one"}`
		}, 5*time.Second, 10*time.Millisecond)

		_, err = s.Write(ctx, "notes", []byte(`{"text":"two"}`), true)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			d := rec.last()
			return d != nil && string(d.Data) == `{"text":"two"}`
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, sub.Unsubscribe())
		seen := len(rec.all())
		_, err = s.Write(ctx, "notes", []byte(`{"text":"three"}`), true)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
		assert.Len(t, rec.all(), seen)
	})

	t.Run("subscribe to empty document waits for first write", func(t *testing.T) {
		s := newStore(t)
		rec := &recorder{}
		sub, err := s.Subscribe(ctx, "counters", rec.handle)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		_, err = s.Write(ctx, "counters", []byte(`{"departureCount":2}`), false)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return rec.last() != nil }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, "counters", rec.last().ID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_FailNextWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	s.FailNextWrites(2, errors.New("link down"))
	_, err := s.Write(ctx, "roster", []byte(`{}`), false)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.Write(ctx, "roster", []byte(`{}`), false)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.Write(ctx, "roster", []byte(`{}`), false)
	assert.NoError(t, err)
}

func TestMemoryStore_Redeliver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Write(ctx, "roster", []byte(`{"rooms":{}}`), false)
	require.NoError(t, err)

	rec := &recorder{}
	_, err = s.Subscribe(ctx, "roster", rec.handle)
	require.NoError(t, err)
	s.Redeliver("roster")

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	docs := rec.all()
	assert.Equal(t, docs[0].Revision, docs[1].Revision)
}

func TestMemoryStore_ContextCancelUnsubscribes(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Subscribe(ctx, "roster", func(*Document) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers("roster"))

	cancel()
	require.Eventually(t, func() bool { return s.Subscribers("roster") == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Read(context.Background(), "roster")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Write(context.Background(), "roster", []byte(`{}`), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "firestore"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}
