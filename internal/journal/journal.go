// Package journal keeps an append-only local log of the actions a device
// performed, in a SQLite file.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Action is the kind of a journaled change.
type Action string

const (
	ActionStatus Action = "status"
	ActionRemark Action = "remark"
	ActionClaim  Action = "claim"
	ActionArea   Action = "area"
	ActionNote   Action = "note"
	ActionIngest Action = "ingest"
	ActionReset  Action = "reset"
	ActionExpire Action = "expire"
)

// DefaultLimit caps queries that do not set a limit.
const DefaultLimit = 100

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal closed")

// Entry is one journaled action.
type Entry struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Action Action    `json:"action"`
	Actor  string    `json:"actor"`
	Role   string    `json:"role,omitempty"`
	Device string    `json:"device"`
	Room   string    `json:"room,omitempty"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Query selects entries, newest first.
type Query struct {
	// Room filters to one room when set.
	Room  string
	Limit int
}

// Journal is a SQLite-backed action log. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS entries (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     INTEGER NOT NULL,
	action TEXT NOT NULL,
	actor  TEXT NOT NULL,
	role   TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL,
	room   TEXT NOT NULL DEFAULT '',
	from_status TEXT NOT NULL DEFAULT '',
	to_status   TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS entries_room ON entries (room, id);`

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records e. A zero At is stamped with the current time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (at, action, actor, role, device, room, from_status, to_status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UTC().UnixNano(), string(e.Action), e.Actor, e.Role, e.Device, e.Room, e.From, e.To, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (j *Journal) Query(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	stmt := `SELECT id, at, action, actor, role, device, room, from_status, to_status, detail FROM entries`
	args := []any{}
	if q.Room != "" {
		stmt += ` WHERE room = ?`
		args = append(args, q.Room)
	}
	stmt += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			at     int64
			action string
		)
		if err := rows.Scan(&e.ID, &at, &action, &e.Actor, &e.Role, &e.Device, &e.Room, &e.From, &e.To, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
