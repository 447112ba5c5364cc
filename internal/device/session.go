// Package device runs one device's view of the shared roster.
//
// A Session owns a local cache of the roster, report counters, front desk
// note and common areas. Local actions and remote snapshots are processed by
// one event loop goroutine, so the cache never sees two changes at once.
// Local changes are applied optimistically under an edit lease and written to
// the store by a background writer that retries transient failures.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/lease"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/roomsync/internal/device"

// Recorder receives journal entries for actions that reached the store.
type Recorder interface {
	Append(ctx context.Context, e journal.Entry) error
}

// SyncState reports how far the local view is ahead of the store.
type SyncState struct {
	// Pending counts local changes the store has not acknowledged.
	Pending int `json:"pending"`
	// Failed counts changes abandoned after exhausting retries.
	Failed       int       `json:"failed"`
	LastError    string    `json:"lastError,omitempty"`
	LastErrorAt  time.Time `json:"lastErrorAt"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// Synced reports whether every local change has reached the store.
func (s SyncState) Synced() bool { return s.Pending == 0 }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithJournal records landed actions in r.
func WithJournal(r Recorder) Option {
	return func(s *Session) { s.journal = r }
}

// WithClock sets the clock used for timestamps and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one device's connection to the shared roster.
type Session struct {
	cfg     Config
	def     *roster.Definition
	store   docstore.Store
	leases  *lease.Tracker
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
	journal Recorder
	now     func() time.Time

	events    chan event
	writes    chan *writeOp
	done      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closeOnce sync.Once

	subsMu sync.Mutex
	subs   []docstore.Subscription

	// mu guards the cache against readers. Only the event loop writes it.
	mu       sync.RWMutex
	roster   *roster.Roster
	counters roster.Counters
	note     roster.Note
	areas    map[string]roster.Area
	areaIDs  []string
	identity roster.Identity
	sync     SyncState

	// Owned by the event loop.
	lastRemote map[string]*docstore.Document
	editing    map[string]*lease.Lease

	watchMu  sync.Mutex
	watchers map[chan Event]struct{}
}

// event is one unit of work for the loop. Exactly one field is set.
type event struct {
	ctx     context.Context
	local   func(context.Context) error
	reply   chan error
	remote  *docstore.Document
	written *writeResult
}

// New creates a session on store. It does nothing until Start.
func New(store docstore.Store, cfg Config, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.New("device: store is required")
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	cfg.applyDefaults()

	s := &Session{
		cfg:        cfg,
		def:        cfg.Definition,
		store:      store,
		logger:     logging.Nop(),
		tracer:     otel.Tracer(instrumentationName),
		metrics:    NewMetrics(),
		now:        time.Now,
		events:     make(chan event, 64),
		writes:     make(chan *writeOp, cfg.Writer.QueueSize),
		done:       make(chan struct{}),
		lastRemote: make(map[string]*docstore.Document),
		editing:    make(map[string]*lease.Lease),
		watchers:   make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.leases = lease.NewTracker(cfg.DeviceID, lease.WithGrace(cfg.Grace), lease.WithClock(s.now))
	s.limiter = rate.NewLimiter(rate.Limit(cfg.Writer.RatePerSecond), cfg.Writer.Burst)
	s.roster = s.def.Seed(s.now())
	s.areas = make(map[string]roster.Area)
	for _, a := range s.def.Areas() {
		s.areas[a.ID] = a
		s.areaIDs = append(s.areaIDs, a.ID)
	}
	return s, nil
}

// DeviceID returns the id this session holds leases under.
func (s *Session) DeviceID() string { return s.cfg.DeviceID }

// Definition returns the property layout.
func (s *Session) Definition() *roster.Definition { return s.def }

// Start seeds the roster if the store is empty, subscribes to every shared
// document and starts the event loop and writer. The session stops when ctx
// is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("device: session already started")
	}
	ctx = s.withDevice(ctx)
	if err := s.seed(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.loop(runCtx)
	go s.runWriter(runCtx)
	if s.cfg.ExpiryInterval > 0 {
		s.wg.Add(1)
		go s.runExpiry(runCtx)
	}

	ids := []string{roster.RosterDocID, roster.CountersDocID, roster.NotesDocID}
	for _, id := range s.areaIDs {
		ids = append(ids, roster.AreaDocID(id))
	}
	for _, id := range ids {
		sub, err := s.store.Subscribe(runCtx, id, s.deliver)
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("subscribing to %s: %w", id, err)
		}
		s.subsMu.Lock()
		s.subs = append(s.subs, sub)
		s.subsMu.Unlock()
	}

	go func() {
		<-runCtx.Done()
		_ = s.Close()
	}()

	s.logger.Info(ctx, "device session started",
		zap.Int("rooms", len(s.Rooms())),
		zap.Int("areas", len(s.areaIDs)))
	return nil
}

// Close stops the session. Unacknowledged writes are dropped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)

		s.subsMu.Lock()
		subs := s.subs
		s.subs = nil
		s.subsMu.Unlock()
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}

		s.wg.Wait()
		s.closeWatchers()
	})
	return nil
}

// seed writes the default roster when the store has none.
func (s *Session) seed(ctx context.Context) error {
	_, err := s.store.Read(ctx, roster.RosterDocID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("reading roster: %w", err)
	}

	seeded := false
	_, err = s.store.Update(ctx, roster.RosterDocID, func(current []byte) ([]byte, error) {
		if current != nil {
			seeded = false
			return current, nil
		}
		seeded = true
		return s.def.Seed(s.now()).Document().Encode()
	})
	if err != nil {
		return fmt.Errorf("seeding roster: %w", err)
	}
	if seeded {
		s.logger.Info(ctx, "seeded empty store with default roster")
	}
	return nil
}

// deliver is the store subscription handler.
func (s *Session) deliver(doc *docstore.Document) {
	s.post(event{remote: doc})
}

// post queues ev for the loop. It reports false once the session is closed.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the event loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	select {
	case s.events <- event{ctx: ctx, local: fn, reply: reply}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) loop(ctx context.Context) {
	defer s.wg.Done()

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-sweep.C:
			s.sweepLeases(ctx)
		case ev := <-s.events:
			switch {
			case ev.local != nil:
				ev.reply <- ev.local(s.withDevice(ev.ctx))
			case ev.remote != nil:
				s.handleRemote(ctx, ev.remote)
			case ev.written != nil:
				s.handleWritten(ctx, ev.written)
			}
		}
	}
}

// handleRemote applies a snapshot from the store. Redeliveries and
// snapshots older than the last one seen are dropped, including after a
// malformed one.
func (s *Session) handleRemote(ctx context.Context, doc *docstore.Document) {
	if prev := s.lastRemote[doc.ID]; prev != nil {
		if doc.Revision < prev.Revision {
			return
		}
		if doc.Revision == prev.Revision && (prev.Data == nil || bytes.Equal(doc.Data, prev.Data)) {
			return
		}
	}
	s.lastRemote[doc.ID] = doc
	s.reconcile(ctx, doc)
}

// readopt reconciles the last snapshot of id again, after leases on it
// changed.
func (s *Session) readopt(ctx context.Context, id string) {
	if doc := s.lastRemote[id]; doc != nil && doc.Data != nil {
		s.reconcile(ctx, doc)
	}
}

func (s *Session) sweepLeases(ctx context.Context) {
	dropped := s.leases.Sweep()
	s.metrics.ActiveLeases.Set(float64(s.leases.Active()))
	if dropped == 0 {
		return
	}
	s.logger.Trace(ctx, "edit leases expired", zap.Int("fields", dropped))
	for id := range s.lastRemote {
		s.readopt(ctx, id)
	}
}

func (s *Session) withDevice(ctx context.Context) context.Context {
	return logging.WithDeviceID(ctx, s.cfg.DeviceID)
}

func (s *Session) isAreaDoc(id string) bool {
	return strings.HasPrefix(id, roster.AreaDocPrefix)
}

// Rooms returns a copy of the roster in display order.
func (s *Session) Rooms() []roster.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]roster.Room(nil), s.roster.Rooms...)
}

// Room returns one room.
func (s *Session) Room(number string) (roster.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.roster.Room(number)
	if !ok {
		return roster.Room{}, fmt.Errorf("%w: %s", ErrUnknownRoom, number)
	}
	return room, nil
}

// Roster returns a copy of the whole local roster.
func (s *Session) Roster() *roster.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster.Clone()
}

// Loaded reports whether the first roster snapshot has arrived.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster.Loaded
}

// Counters returns the report counters.
func (s *Session) Counters() roster.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.Clone()
}

// Note returns the front desk note.
func (s *Session) Note() roster.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.note
}

// Areas returns every common area record in display order.
func (s *Session) Areas() []roster.Area {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roster.Area, 0, len(s.areaIDs))
	for _, id := range s.areaIDs {
		out = append(out, s.areas[id])
	}
	return out
}

// Area returns one common area record.
func (s *Session) Area(id string) (roster.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.areas[id]
	if !ok {
		return roster.Area{}, fmt.Errorf("%w: %s", ErrUnknownArea, id)
	}
	return a, nil
}

// SyncState returns the background write state.
func (s *Session) SyncState() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sync
}

// Flush waits until every queued write has been acknowledged or abandoned.
func (s *Session) Flush(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if s.SyncState().Synced() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-tick.C:
		}
	}
}
