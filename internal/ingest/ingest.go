// Package ingest turns the room numbers found in a scanned front desk report
// into roster-wide status transitions.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/roster"
)

// DefaultRetention is how long an ingested report keeps driving room
// statuses before it expires.
const DefaultRetention = 5 * 24 * time.Hour

var (
	// ErrNoRoomsFound is returned when a report contains no room numbers.
	ErrNoRoomsFound = errors.New("no rooms found in document")
	// ErrRoomsNotRecognized is returned when none of the numbers in a report
	// belong to the roster.
	ErrRoomsNotRecognized = errors.New("document rooms not recognized")
)

// Result is the outcome of one ingestion.
type Result struct {
	Next     *roster.Roster
	Counters roster.Counters
	// Matched are the report numbers that belong to the roster, in report
	// order.
	Matched []string
	// Unmatched are the report numbers that do not.
	Unmatched []string
	// Changed lists rooms whose status changed.
	Changed []string
}

// Ingest applies a report of kind listing numbers to current. counters is
// the current counters document; the counts of the other report kind are
// kept. current is not modified, and on error nothing is produced.
func Ingest(kind roster.ReportKind, numbers []string, current *roster.Roster, counters roster.Counters, protected map[string]bool, now time.Time) (Result, error) {
	if _, err := roster.ParseReportKind(string(kind)); err != nil {
		return Result{}, err
	}
	if len(numbers) == 0 {
		return Result{}, ErrNoRoomsFound
	}

	var res Result
	matched := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		if current.Has(n) {
			if !matched[n] {
				matched[n] = true
				res.Matched = append(res.Matched, n)
			}
		} else {
			res.Unmatched = append(res.Unmatched, n)
		}
	}
	if len(res.Matched) == 0 {
		return Result{}, fmt.Errorf("%w: %d numbers found", ErrRoomsNotRecognized, len(numbers))
	}

	next := current.Clone()
	for i := range next.Rooms {
		room := &next.Rooms[i]
		before := room.Status
		if transition(room, kind, matched[room.Number], protected[room.Number], now) && room.Status != before {
			res.Changed = append(res.Changed, room.Number)
		}
	}
	res.Next = next

	c := counters.Clone()
	switch kind {
	case roster.ReportDeparture:
		c.DepartureCount = len(res.Matched)
		c.DepartureRooms = append([]string(nil), res.Matched...)
	case roster.ReportInhouse:
		c.InhouseCount = len(res.Matched)
		c.InhouseRooms = append([]string(nil), res.Matched...)
	}
	c.Reports = append(c.Reports, roster.ReportEntry{
		Kind:  kind,
		At:    now.UTC(),
		Rooms: append([]string(nil), res.Matched...),
	})
	res.Counters = c
	return res, nil
}

// transition applies the report rules to one room and reports whether it
// touched the room.
func transition(room *roster.Room, kind roster.ReportKind, inReport, protected bool, now time.Time) bool {
	switch {
	case protected && kind == roster.ReportDeparture:
		room.SetStatus(roster.StatusLongStay, now)
		return true
	case room.Status.IsCleaned():
		return false
	case !inReport:
		return false
	}

	switch kind {
	case roster.ReportDeparture:
		room.SetStatus(roster.StatusWillDepartToday, now)
	case roster.ReportInhouse:
		// An in-house listing never downgrades a departing room.
		if room.Status == roster.StatusCheckedOut || room.Status == roster.StatusWillDepartToday {
			return false
		}
		room.SetStatus(roster.StatusStayClean, now)
	}
	room.CleanedToday = false
	return true
}

// Expiry is the outcome of expiring old reports.
type Expiry struct {
	Next     *roster.Roster
	Counters roster.Counters
	// Expired is the number of report log entries dropped.
	Expired int
	// Reverted lists rooms returned to vacant.
	Reverted []string
}

// Expire drops report log entries older than retention. Rooms those reports
// touched that still hold a report-driven status go back to vacant, and the
// room lists of the counters forget them. A room also named in a report that
// is kept stays as it is.
func Expire(current *roster.Roster, counters roster.Counters, retention time.Duration, now time.Time) Expiry {
	if retention <= 0 {
		retention = DefaultRetention
	}

	c := counters.Clone()
	kept := c.Reports[:0]
	expired := make(map[string]bool)
	n := 0
	for _, report := range c.Reports {
		if now.Sub(report.At) < retention {
			kept = append(kept, report)
			continue
		}
		n++
		for _, number := range report.Rooms {
			expired[number] = true
		}
	}
	c.Reports = kept
	for _, report := range kept {
		for _, number := range report.Rooms {
			delete(expired, number)
		}
	}

	out := Expiry{Next: current.Clone(), Expired: n}
	if n == 0 {
		out.Counters = c
		return out
	}

	for i := range out.Next.Rooms {
		room := &out.Next.Rooms[i]
		if expired[room.Number] && room.Status.IsReportDriven() {
			room.SetStatus(roster.StatusVacant, now)
			room.CleanedToday = false
			out.Reverted = append(out.Reverted, room.Number)
		}
	}

	c.DepartureRooms = without(c.DepartureRooms, expired)
	c.InhouseRooms = without(c.InhouseRooms, expired)
	c.DepartureCount = len(c.DepartureRooms)
	c.InhouseCount = len(c.InhouseRooms)
	out.Counters = c
	return out
}

func without(numbers []string, drop map[string]bool) []string {
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if !drop[n] {
			out = append(out, n)
		}
	}
	return out
}
