package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t)
	at := time.Date(2026, time.June, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, Entry{At: at, Action: ActionStatus, Actor: "Nok", Role: "housekeeping", Device: "d1", Room: "602", From: "vacant", To: "cleaned"}))
	require.NoError(t, j.Append(ctx, Entry{At: at.Add(time.Minute), Action: ActionRemark, Actor: "Nok", Device: "d1", Room: "101", Detail: "towels"}))
	require.NoError(t, j.Append(ctx, Entry{At: at.Add(2 * time.Minute), Action: ActionReset, Actor: "Ann", Device: "d2"}))

	all, err := j.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ActionReset, all[0].Action, "newest first")
	assert.Equal(t, at, all[2].At)

	room, err := j.Query(ctx, Query{Room: "602"})
	require.NoError(t, err)
	require.Len(t, room, 1)
	assert.Equal(t, "cleaned", room[0].To)
	assert.Equal(t, "housekeeping", room[0].Role)

	limited, err := j.Query(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJournal_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, Entry{Action: ActionIngest, Actor: "Ann", Device: "d1", Detail: "departure 12 rooms"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].At.IsZero())
}

func TestJournal_Closed(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Append(context.Background(), Entry{}), ErrClosed)
	_, err := j.Query(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrClosed)
}
