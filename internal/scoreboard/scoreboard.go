// Package scoreboard derives cleaning credit and workload figures from a
// roster. Nothing here is persisted; every figure is recomputed on demand.
package scoreboard

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/roster"
)

// Entry is one assignee's credit.
type Entry struct {
	Assignee string `json:"assignee"`
	Points   int    `json:"points"`
	Rooms    int    `json:"rooms"`
}

// Scores credits each assignee for the rooms they cleaned: 2 points for a
// suite, 1 otherwise. Entries are ordered by points, then name.
func Scores(r *roster.Roster) []Entry {
	byName := make(map[string]*Entry)
	for i := range r.Rooms {
		room := &r.Rooms[i]
		points := room.Points()
		if points == 0 {
			continue
		}
		e := byName[room.Assignee]
		if e == nil {
			e = &Entry{Assignee: room.Assignee}
			byName[room.Assignee] = e
		}
		e.Points += points
		e.Rooms++
	}

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Assignee < entries[j].Assignee
	})
	return entries
}

// Workload is the weighted room load of the latest reports.
type Workload struct {
	// Departures is the weighted count of departing rooms.
	Departures int `json:"departures"`
	// StayOvers is the weighted count of in-house rooms that are neither
	// departing nor protected long stays.
	StayOvers int `json:"stayOvers"`
	Total     int `json:"total"`
}

// Summarize computes the workload from the counters room lists.
func Summarize(r *roster.Roster, c roster.Counters, protected map[string]bool) Workload {
	weight := func(number string) int {
		room, ok := r.Room(number)
		if !ok {
			return 0
		}
		return room.Category.Weight()
	}

	var w Workload
	departing := make(map[string]bool, len(c.DepartureRooms))
	for _, n := range c.DepartureRooms {
		if departing[n] {
			continue
		}
		departing[n] = true
		w.Departures += weight(n)
	}
	seen := make(map[string]bool, len(c.InhouseRooms))
	for _, n := range c.InhouseRooms {
		if seen[n] || departing[n] || protected[n] {
			continue
		}
		seen[n] = true
		w.StayOvers += weight(n)
	}
	w.Total = w.Departures + w.StayOvers
	return w
}

// Vacancy is a room that has stood vacant for a while.
type Vacancy struct {
	Number string    `json:"number"`
	Floor  int       `json:"floor"`
	Since  time.Time `json:"since"`
	Days   int       `json:"days"`
}

// Vacancies lists rooms vacant for at least minDays whole days, longest
// first.
func Vacancies(r *roster.Roster, minDays int, now time.Time) []Vacancy {
	var out []Vacancy
	for i := range r.Rooms {
		room := &r.Rooms[i]
		days := room.VacantDays(now)
		if room.VacantSince == nil || days < minDays {
			continue
		}
		out = append(out, Vacancy{
			Number: room.Number,
			Floor:  room.Floor,
			Since:  *room.VacantSince,
			Days:   days,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Days > out[j].Days })
	return out
}
