package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/ingest"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/fyrsmithlabs/roomsync/internal/scoreboard"
	"github.com/fyrsmithlabs/roomsync/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Append(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) all() []journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.Entry(nil), m.entries...)
}

func testConfig(deviceID string) Config {
	cfg := DefaultConfig(deviceID)
	cfg.Writer.InitialBackoff = time.Millisecond
	cfg.Writer.MaxBackoff = 5 * time.Millisecond
	cfg.Writer.RatePerSecond = 1000
	cfg.Writer.Burst = 100
	cfg.ExpiryInterval = 0
	cfg.SweepInterval = 10 * time.Millisecond
	return cfg
}

func startSession(t *testing.T, store docstore.Store, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := New(store, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	require.Eventually(t, s.Loaded, waitFor, tick)
	return s
}

func login(t *testing.T, s *Session, name string, role roster.Role) {
	t.Helper()
	_, err := s.Login(context.Background(), name, role)
	require.NoError(t, err)
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func roomIs(s *Session, number string, check func(roster.Room) bool) func() bool {
	return func() bool {
		room, err := s.Room(number)
		return err == nil && check(room)
	}
}

func hasStatus(status roster.Status) func(roster.Room) bool {
	return func(r roster.Room) bool { return r.Status == status }
}

func storedRoom(t *testing.T, store docstore.Store, number string) roster.Room {
	t.Helper()
	doc, err := store.Read(context.Background(), roster.RosterDocID)
	require.NoError(t, err)
	d, err := roster.DecodeDocument(doc.Data)
	require.NoError(t, err)
	return d.Rooms[number]
}

func TestSession_SeedsEmptyStore(t *testing.T) {
	store := docstore.NewMemoryStore()
	s := startSession(t, store, testConfig("d1"))

	assert.Len(t, s.Rooms(), roster.DefaultDefinition().Seed(time.Now()).Len())
	room := storedRoom(t, store, "207")
	assert.Equal(t, roster.StatusLongStay, room.Status)
	assert.Equal(t, roster.StatusVacant, storedRoom(t, store, "101").Status)
}

func TestSession_StatusPropagatesBetweenDevices(t *testing.T) {
	store := docstore.NewMemoryStore()
	rec := &memJournal{}
	a := startSession(t, store, testConfig("a"), WithJournal(rec))
	b := startSession(t, store, testConfig("b"))
	login(t, a, "Nok", roster.RoleHousekeeping)

	require.NoError(t, a.SetStatus(context.Background(), "602", roster.StatusCleaned))
	local, err := a.Room("602")
	require.NoError(t, err)
	assert.Equal(t, roster.StatusCleaned, local.Status, "optimistic apply")
	assert.True(t, local.CleanedToday)
	assert.Equal(t, "Nok", local.CleanedBy)
	assert.Equal(t, "Nok", local.Assignee)

	flush(t, a)
	require.Eventually(t, roomIs(b, "602", hasStatus(roster.StatusCleaned)), waitFor, tick)
	remote, _ := b.Room("602")
	assert.Equal(t, "Nok", remote.CleanedBy)
	assert.Equal(t, 2, remote.Points())

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ActionStatus, entries[0].Action)
	assert.Equal(t, "602", entries[0].Room)
	assert.Equal(t, "vacant", entries[0].From)
	assert.Equal(t, "cleaned", entries[0].To)
	assert.Equal(t, "a", entries[0].Device)
	assert.True(t, a.SyncState().Synced())
}

func TestSession_FrontDeskPreservesAttribution(t *testing.T) {
	store := docstore.NewMemoryStore()
	hk := startSession(t, store, testConfig("hk"))
	fd := startSession(t, store, testConfig("fd"))
	login(t, hk, "Nok", roster.RoleHousekeeping)
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	require.NoError(t, hk.ToggleClaim(ctx, "101"))
	flush(t, hk)
	require.Eventually(t, roomIs(fd, "101", func(r roster.Room) bool { return r.ClaimedBy == "Nok" }), waitFor, tick)

	require.NoError(t, fd.SetStatus(ctx, "101", roster.StatusCheckedOut))
	flush(t, fd)

	room := storedRoom(t, store, "101")
	assert.Equal(t, roster.StatusCheckedOut, room.Status)
	assert.Equal(t, "Nok", room.LastEditor)
	assert.Equal(t, "Nok", room.ClaimedBy)
	assert.Equal(t, roster.FlagRed, room.FlagColor)

	assert.ErrorIs(t, fd.ToggleClaim(ctx, "101"), ErrForbidden)
}

func TestSession_ClaimToggle(t *testing.T) {
	s := startSession(t, docstore.NewMemoryStore(), testConfig("d1"))
	login(t, s, "Nok", roster.RoleHousekeeping)
	ctx := context.Background()

	require.NoError(t, s.ToggleClaim(ctx, "305"))
	room, _ := s.Room("305")
	assert.Equal(t, roster.FlagRed, room.FlagColor)
	assert.Equal(t, "Nok", room.ClaimedBy)

	require.NoError(t, s.SetStatus(ctx, "305", roster.StatusCleaned))
	room, _ = s.Room("305")
	assert.Equal(t, roster.FlagBlack, room.FlagColor, "cleaning clears the claim")
	assert.Empty(t, room.ClaimedBy)

	require.NoError(t, s.ToggleClaim(ctx, "305"))
	require.NoError(t, s.ToggleClaim(ctx, "305"))
	room, _ = s.Room("305")
	assert.Equal(t, roster.FlagBlack, room.FlagColor)
	assert.Empty(t, room.ClaimedBy)
}

func TestSession_Authorization(t *testing.T) {
	s := startSession(t, docstore.NewMemoryStore(), testConfig("d1"))
	ctx := context.Background()

	assert.ErrorIs(t, s.SetStatus(ctx, "101", roster.StatusCleaned), ErrNotLoggedIn)
	assert.ErrorIs(t, s.SaveNote(ctx, "hello"), ErrNotLoggedIn)
	_, err := s.ResetRoster(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = s.Login(ctx, "   ", roster.RoleHousekeeping)
	assert.ErrorIs(t, err, roster.ErrInvalidIdentity)

	login(t, s, "Nok", roster.RoleHousekeeping)
	_, err = s.ResetRoster(ctx)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.UploadReport(ctx, Upload{Kind: roster.ReportDeparture, Filename: "d.txt", Body: strings.NewReader("101")})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, s.SetStatus(ctx, "999", roster.StatusCleaned), ErrUnknownRoom)
	assert.ErrorIs(t, s.SetStatus(ctx, "101", "dusty"), roster.ErrUnknownStatus)

	require.NoError(t, s.Logout(ctx))
	assert.True(t, s.Identity().IsZero())
	room, _ := s.Room("101")
	assert.Equal(t, roster.StatusVacant, room.Status, "rejected actions change nothing")
}

func TestSession_NotStarted(t *testing.T) {
	s, err := New(docstore.NewMemoryStore(), testConfig("d1"))
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetStatus(context.Background(), "101", roster.StatusCleaned), ErrNotStarted)
	assert.NoError(t, s.Close())
}

func TestSession_StickyCleanedAgainstRemote(t *testing.T) {
	store := docstore.NewMemoryStore()
	hk := startSession(t, store, testConfig("hk"))
	fd := startSession(t, store, testConfig("fd"))
	login(t, hk, "Nok", roster.RoleHousekeeping)
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	require.NoError(t, hk.SetStatus(ctx, "602", roster.StatusCleaned))
	flush(t, hk)
	require.Eventually(t, roomIs(fd, "602", hasStatus(roster.StatusCleaned)), waitFor, tick)

	require.NoError(t, fd.SetStatus(ctx, "602", roster.StatusVacant))
	flush(t, fd)
	assert.Equal(t, roster.StatusVacant, storedRoom(t, store, "602").Status)

	assert.Never(t, roomIs(hk, "602", hasStatus(roster.StatusVacant)), 100*time.Millisecond, tick,
		"a remote snapshot never un-cleans a room")
}

func TestSession_RetriesTransientFailures(t *testing.T) {
	store := docstore.NewMemoryStore()
	cfg := testConfig("d1")
	cfg.Writer.InitialBackoff = 20 * time.Millisecond
	cfg.Writer.MaxBackoff = 40 * time.Millisecond
	s := startSession(t, store, cfg)
	login(t, s, "Nok", roster.RoleHousekeeping)

	store.FailNextWrites(2, errors.New("network down"))
	require.NoError(t, s.SaveRemark(context.Background(), "101", "towels missing"))
	assert.Contains(t, s.Leased("101"), roster.FieldRemark)

	flush(t, s)
	state := s.SyncState()
	assert.Zero(t, state.Failed)
	assert.Contains(t, state.LastError, "network down")
	assert.False(t, state.LastSyncedAt.IsZero())

	stored := storedRoom(t, store, "101")
	assert.True(t, strings.HasPrefix(stored.Remark, "towels missing (reported by Nok "), stored.Remark)
	assert.Equal(t, "Nok", stored.LastEditor)
	assert.Empty(t, s.Leased("101"), "lease released on acknowledgement")
}

func TestSession_AbandonedWriteReverts(t *testing.T) {
	store := docstore.NewMemoryStore()
	cfg := testConfig("d1")
	cfg.Writer.MaxAttempts = 2
	tl := logging.NewTestLogger()
	s := startSession(t, store, cfg, WithLogger(tl.Logger))
	login(t, s, "Nok", roster.RoleHousekeeping)

	store.FailNextWrites(10, errors.New("network down"))
	require.NoError(t, s.SaveRemark(context.Background(), "101", "leak"))
	flush(t, s)
	store.FailNextWrites(0, nil)

	state := s.SyncState()
	assert.Equal(t, 1, state.Failed)
	assert.Contains(t, state.LastError, "network down")
	room, _ := s.Room("101")
	assert.Empty(t, room.Remark, "abandoned change is reverted to the store value")
	tl.AssertLogged(t, zapcore.ErrorLevel, "store write abandoned")
	tl.AssertField(t, "store write abandoned", "device.id", "d1")
}

func TestSession_AbandonedCleanedStatusReverts(t *testing.T) {
	store := docstore.NewMemoryStore()
	cfg := testConfig("d1")
	cfg.Writer.MaxAttempts = 2
	s := startSession(t, store, cfg)
	login(t, s, "Nok", roster.RoleHousekeeping)

	store.FailNextWrites(10, errors.New("network down"))
	require.NoError(t, s.SetStatus(context.Background(), "602", roster.StatusCleaned))
	local, _ := s.Room("602")
	require.Equal(t, roster.StatusCleaned, local.Status)
	flush(t, s)
	store.FailNextWrites(0, nil)

	assert.Equal(t, 1, s.SyncState().Failed)
	room, _ := s.Room("602")
	assert.Equal(t, roster.StatusVacant, room.Status, "cleaned status that never reached the store is dropped")
	assert.Empty(t, room.CleanedBy)
	assert.False(t, room.CleanedToday)
	assert.Empty(t, scoreboard.Scores(s.Roster()))
	assert.Empty(t, s.Leased("602"))
	assert.Equal(t, roster.StatusVacant, storedRoom(t, store, "602").Status)
}

func TestSession_MalformedSnapshotIgnored(t *testing.T) {
	store := docstore.NewMemoryStore()
	tl := logging.NewTestLogger()
	s := startSession(t, store, testConfig("d1"), WithLogger(tl.Logger))
	login(t, s, "Nok", roster.RoleHousekeeping)
	require.NoError(t, s.SetStatus(context.Background(), "602", roster.StatusCleaned))
	flush(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Watch(ctx)
	store.Put(roster.RosterDocID, []byte(`{"oops": true}`))

	deadline := time.After(waitFor)
	for malformed := false; !malformed; {
		select {
		case e := <-events:
			malformed = e.Type == EventMalformed && e.Doc == roster.RosterDocID
		case <-deadline:
			t.Fatal("no malformed event")
		}
	}

	room, _ := s.Room("602")
	assert.Equal(t, roster.StatusCleaned, room.Status)
	tl.AssertLogged(t, zapcore.WarnLevel, "ignored malformed snapshot")
}

func TestSession_MalformedSnapshotKeepsRevision(t *testing.T) {
	store := docstore.NewMemoryStore()
	s := startSession(t, store, testConfig("d1"))
	ctx := context.Background()

	cur, err := store.Read(ctx, roster.RosterDocID)
	require.NoError(t, err)
	older, err := roster.DecodeDocument(cur.Data)
	require.NoError(t, err)
	room := older.Rooms["602"]
	room.Status = roster.StatusClosed
	older.Rooms["602"] = room
	olderData, err := older.Encode()
	require.NoError(t, err)

	s.post(event{remote: &docstore.Document{ID: roster.RosterDocID, Data: []byte(`{"oops": true}`), Revision: cur.Revision + 10}})
	s.post(event{remote: &docstore.Document{ID: roster.RosterDocID, Data: olderData, Revision: cur.Revision + 5}})
	require.NoError(t, s.do(ctx, func(context.Context) error { return nil }))

	got, _ := s.Room("602")
	assert.Equal(t, roster.StatusVacant, got.Status, "snapshot older than a malformed one is dropped")

	s.post(event{remote: &docstore.Document{ID: roster.RosterDocID, Data: olderData, Revision: cur.Revision + 11}})
	require.Eventually(t, roomIs(s, "602", hasStatus(roster.StatusClosed)), waitFor, tick)
}

func TestSession_EditLease(t *testing.T) {
	store := docstore.NewMemoryStore()
	a := startSession(t, store, testConfig("a"))
	b := startSession(t, store, testConfig("b"))
	login(t, a, "Nok", roster.RoleHousekeeping)
	login(t, b, "Lek", roster.RoleHousekeeping)
	ctx := context.Background()

	require.NoError(t, a.BeginEdit(ctx, "205"))
	assert.NotEmpty(t, a.Leased("205"))

	require.NoError(t, b.SetStatus(ctx, "205", roster.StatusClosed))
	flush(t, b)
	assert.Never(t, roomIs(a, "205", hasStatus(roster.StatusClosed)), 100*time.Millisecond, tick,
		"open editor keeps remote changes out")

	require.NoError(t, a.CancelEdit(ctx, "205"))
	require.Eventually(t, roomIs(a, "205", hasStatus(roster.StatusClosed)), waitFor, tick)
}

func TestSession_LeaseExpiryAdoptsRemote(t *testing.T) {
	store := docstore.NewMemoryStore()
	cfg := testConfig("a")
	cfg.Grace = 50 * time.Millisecond
	a := startSession(t, store, cfg)
	b := startSession(t, store, testConfig("b"))
	login(t, a, "Nok", roster.RoleHousekeeping)
	login(t, b, "Lek", roster.RoleHousekeeping)
	ctx := context.Background()

	require.NoError(t, a.BeginEdit(ctx, "304"))
	require.NoError(t, b.SetStatus(ctx, "304", roster.StatusClosed))
	flush(t, b)
	require.Eventually(t, roomIs(a, "304", hasStatus(roster.StatusClosed)), waitFor, tick)
}

func TestSession_UploadReport(t *testing.T) {
	store := docstore.NewMemoryStore()
	rec := &memJournal{}
	tel := telemetry.NewTestTelemetry()
	fd := startSession(t, store, testConfig("fd"), WithJournal(rec), WithTracer(tel.Tracer("test")))
	hk := startSession(t, store, testConfig("hk"))
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	res, err := fd.UploadReport(ctx, Upload{
		Kind:     roster.ReportDeparture,
		Filename: "departure.txt",
		Body:     strings.NewReader("Departures 02/06: 101 Mr A, 207 Ms B, 650 unknown"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "207"}, res.Matched)
	assert.Equal(t, []string{"650"}, res.Unmatched)
	assert.Equal(t, 2, res.Counters.DepartureCount)

	require.Eventually(t, roomIs(hk, "101", hasStatus(roster.StatusWillDepartToday)), waitFor, tick)
	require.Eventually(t, func() bool { return hk.Counters().DepartureCount == 2 }, waitFor, tick)
	require.Eventually(t, roomIs(fd, "101", hasStatus(roster.StatusWillDepartToday)), waitFor, tick)
	r207, _ := hk.Room("207")
	assert.Equal(t, roster.StatusLongStay, r207.Status)

	tel.AssertSpanAttribute(t, "device.upload_report", "matched", int64(2))
	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.ActionIngest, entries[0].Action)
	assert.Equal(t, "Ann", entries[0].Actor)
}

// flakyCounters fails the next counters updates with ErrUnavailable.
type flakyCounters struct {
	*docstore.MemoryStore
	mu    sync.Mutex
	fails int
}

func (f *flakyCounters) Update(ctx context.Context, id string, fn docstore.MutateFunc) (uint64, error) {
	f.mu.Lock()
	if id == roster.CountersDocID && f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return 0, fmt.Errorf("%w: counters write dropped", docstore.ErrUnavailable)
	}
	f.mu.Unlock()
	return f.MemoryStore.Update(ctx, id, fn)
}

func TestSession_UploadReportRetriesCounters(t *testing.T) {
	store := &flakyCounters{MemoryStore: docstore.NewMemoryStore(), fails: 2}
	cfg := testConfig("fd")
	cfg.Writer.InitialBackoff = 100 * time.Millisecond
	cfg.Writer.MaxBackoff = 200 * time.Millisecond
	fd := startSession(t, store, cfg)
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	res, err := fd.UploadReport(ctx, Upload{Kind: roster.ReportDeparture, Filename: "departure.txt", Body: strings.NewReader("101")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counters.DepartureCount)
	assert.Equal(t, 1, fd.Counters().DepartureCount, "counters apply locally at once")
	assert.True(t, fd.leases.IsLeased(reconcile.EntityCounters, "*"), "counters leased while the write is retried")

	flush(t, fd)
	assert.Zero(t, fd.SyncState().Failed)
	doc, err := store.Read(ctx, roster.CountersDocID)
	require.NoError(t, err)
	stored, err := roster.DecodeCounters(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DepartureCount)
	assert.Equal(t, []string{"101"}, stored.DepartureRooms)
	require.Len(t, stored.Reports, 1)
	assert.Equal(t, roster.ReportDeparture, stored.Reports[0].Kind)
	assert.Equal(t, 1, fd.Counters().DepartureCount)
	assert.False(t, fd.leases.IsLeased(reconcile.EntityCounters, "*"))
}

func TestSession_UploadReportClosesEditors(t *testing.T) {
	store := docstore.NewMemoryStore()
	fd := startSession(t, store, testConfig("fd"))
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	require.NoError(t, fd.BeginEdit(ctx, "101"))
	require.NotEmpty(t, fd.Leased("101"))

	_, err := fd.UploadReport(ctx, Upload{Kind: roster.ReportDeparture, Filename: "departure.txt", Body: strings.NewReader("101")})
	require.NoError(t, err)

	room, err := fd.Room("101")
	require.NoError(t, err)
	assert.Equal(t, roster.StatusWillDepartToday, room.Status, "the uploading device shows what it wrote")
	assert.Empty(t, fd.Leased("101"))
}

func TestSession_UploadReportInputErrors(t *testing.T) {
	store := docstore.NewMemoryStore()
	fd := startSession(t, store, testConfig("fd"))
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	before, err := store.Read(ctx, roster.RosterDocID)
	require.NoError(t, err)

	_, err = fd.UploadReport(ctx, Upload{Kind: roster.ReportInhouse, Filename: "inhouse.txt", Body: strings.NewReader("nothing to see")})
	assert.ErrorIs(t, err, ingest.ErrNoRoomsFound)
	_, err = fd.UploadReport(ctx, Upload{Kind: roster.ReportInhouse, Filename: "inhouse.txt", Body: strings.NewReader("rooms 199 650")})
	assert.ErrorIs(t, err, ingest.ErrRoomsNotRecognized)
	_, err = fd.UploadReport(ctx, Upload{Kind: roster.ReportInhouse, Filename: "inhouse.docx", Body: strings.NewReader("101")})
	assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
	_, err = fd.UploadReport(ctx, Upload{Kind: "checkin", Filename: "x.txt", Body: strings.NewReader("101")})
	assert.ErrorIs(t, err, roster.ErrUnknownReportKind)

	after, err := store.Read(ctx, roster.RosterDocID)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision, "roster untouched")
}

func TestSession_ResetRoster(t *testing.T) {
	store := docstore.NewMemoryStore()
	hk := startSession(t, store, testConfig("hk"))
	fd := startSession(t, store, testConfig("fd"))
	login(t, hk, "Nok", roster.RoleHousekeeping)
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	require.NoError(t, hk.SetStatus(ctx, "602", roster.StatusCleaned))
	require.NoError(t, hk.SaveRemark(ctx, "101", "broken lamp"))
	require.NoError(t, hk.SetStatus(ctx, "103", roster.StatusClosed))
	flush(t, hk)
	require.NoError(t, hk.BeginEdit(ctx, "103"))

	_, err := fd.UploadReport(ctx, Upload{Kind: roster.ReportInhouse, Filename: "inhouse.txt", Body: strings.NewReader("301 302")})
	require.NoError(t, err)

	first, err := fd.ResetRoster(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.Eventually(t, roomIs(hk, "602", hasStatus(roster.StatusVacant)), waitFor, tick, "reset bypasses sticky")
	require.Eventually(t, roomIs(hk, "103", hasStatus(roster.StatusVacant)), waitFor, tick, "reset bypasses leases")
	assert.Empty(t, hk.Leased("103"))

	r101, _ := hk.Room("101")
	assert.Contains(t, r101.Remark, "broken lamp", "remarks survive a reset")
	assert.Empty(t, r101.LastEditor)
	r602, _ := hk.Room("602")
	assert.Empty(t, r602.CleanedBy)
	assert.False(t, r602.CleanedToday)
	r207, _ := hk.Room("207")
	assert.Equal(t, roster.StatusLongStay, r207.Status)
	require.Eventually(t, func() bool { return hk.Counters().InhouseCount == 0 && len(hk.Counters().Reports) == 0 }, waitFor, tick)

	require.Eventually(t, func() bool { return fd.Roster().ResetID == first }, waitFor, tick)
	snapshot := fd.Rooms()
	second, err := fd.ResetRoster(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.Eventually(t, func() bool { return fd.Roster().ResetID == second }, waitFor, tick)
	assert.Equal(t, snapshot, fd.Rooms(), "reset is idempotent")
}

func TestSession_ExpireReports(t *testing.T) {
	store := docstore.NewMemoryStore()
	var mu sync.Mutex
	now := time.Date(2026, time.June, 2, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	fd := startSession(t, store, testConfig("fd"), WithClock(clock))
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	_, err := fd.UploadReport(ctx, Upload{Kind: roster.ReportDeparture, Filename: "departure.txt", Body: strings.NewReader("101 102")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(fd.Counters().Reports) == 1 }, waitFor, tick)

	res, err := fd.ExpireReports(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired, "fresh reports stay")

	mu.Lock()
	now = now.Add(6 * 24 * time.Hour)
	mu.Unlock()

	res, err = fd.ExpireReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.ElementsMatch(t, []string{"101", "102"}, res.Reverted)
	require.Eventually(t, roomIs(fd, "101", hasStatus(roster.StatusVacant)), waitFor, tick)
	require.Eventually(t, func() bool { return fd.Counters().DepartureCount == 0 }, waitFor, tick)
}

func TestSession_AreasAndNote(t *testing.T) {
	store := docstore.NewMemoryStore()
	hk := startSession(t, store, testConfig("hk"))
	fd := startSession(t, store, testConfig("fd"))
	login(t, hk, "Nok", roster.RoleHousekeeping)
	login(t, fd, "Ann", roster.RoleFrontDesk)
	ctx := context.Background()

	id := hk.Areas()[0].ID
	require.NoError(t, hk.ToggleAreaClaim(ctx, id))
	area, err := hk.Area(id)
	require.NoError(t, err)
	assert.Equal(t, roster.FlagRed, area.FlagColor)

	require.NoError(t, hk.MarkAreaDone(ctx, id))
	flush(t, hk)
	require.Eventually(t, func() bool {
		a, err := fd.Area(id)
		return err == nil && a.Status == roster.AreaDone && a.Assignee == "Nok" && a.FlagColor == roster.FlagBlack
	}, waitFor, tick)

	assert.ErrorIs(t, fd.MarkAreaDone(ctx, id), ErrForbidden)
	assert.ErrorIs(t, hk.MarkAreaDone(ctx, "roof-morning"), ErrUnknownArea)

	require.NoError(t, fd.SaveNote(ctx, "VIP arriving in 602"))
	flush(t, fd)
	require.Eventually(t, func() bool { return hk.Note().Text == "VIP arriving in 602" }, waitFor, tick)
	assert.Equal(t, "Ann", hk.Note().UpdatedBy)
}

func TestSession_WatchClosesWithSession(t *testing.T) {
	s := startSession(t, docstore.NewMemoryStore(), testConfig("d1"))
	events := s.Watch(context.Background())
	login(t, s, "Nok", roster.RoleHousekeeping)

	e := <-events
	assert.Equal(t, EventSession, e.Type)

	require.NoError(t, s.Close())
	for range events {
	}
	assert.ErrorIs(t, s.SetStatus(context.Background(), "101", roster.StatusCleaned), ErrClosed)
}
