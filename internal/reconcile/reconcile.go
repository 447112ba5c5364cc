// Package reconcile decides, for every remote snapshot, which values a device
// adopts and which local values it keeps.
//
// Rules for a room, applied field by field and independently per room:
//
//  1. A field under an active local lease keeps its local value.
//  2. Otherwise, while the local status is a cleaned variant and the remote
//     status is not, the status group keeps its local values.
//  3. Otherwise the remote value is taken.
//
// A reset marker the device has not seen yet, and the very first snapshot,
// bypass the rules and are taken whole.
package reconcile

import (
	"sort"

	"github.com/fyrsmithlabs/roomsync/internal/lease"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
)

// Decision describes how a snapshot was applied.
type Decision string

const (
	DecisionInitial Decision = "initial"
	DecisionReset   Decision = "reset"
	DecisionMerge   Decision = "merge"
)

// Entity ids used for leases.
const (
	EntityCounters = "counters"
	EntityNotes    = "notes"
)

// RoomEntity is the lease entity id of a room.
func RoomEntity(number string) string { return "room:" + number }

// AreaEntity is the lease entity id of a common area record.
func AreaEntity(id string) string { return "area:" + id }

// Result is the outcome of reconciling one roster snapshot.
type Result struct {
	Next     *roster.Roster
	Decision Decision
	// Changed lists rooms whose local record changed.
	Changed []string
	// Kept maps rooms to the fields that stayed local because of a lease.
	Kept map[string][]string
	// Sticky lists rooms whose status group stayed local because they are
	// cleaned.
	Sticky []string
	// Ignored lists rooms in the payload that are not in the roster or carry
	// an unknown status.
	Ignored []string
}

// Roster merges remote into local. local is not modified.
func Roster(local *roster.Roster, remote *roster.Document, leases lease.Checker) Result {
	next := local.Clone()
	res := Result{Next: next, Kept: make(map[string][]string)}

	switch {
	case !local.Loaded:
		res.Decision = DecisionInitial
	case remote.Reset != nil && remote.Reset.ID != local.ResetID:
		res.Decision = DecisionReset
	}
	if res.Decision != "" {
		res.Ignored = ignored(local, remote)
		before := local
		next.Apply(remote)
		res.Changed = changed(before, next)
		return res
	}

	res.Decision = DecisionMerge
	for i := range next.Rooms {
		room := &next.Rooms[i]
		incoming, ok := remote.Rooms[room.Number]
		if !ok || !incoming.Status.Valid() {
			continue
		}
		sticky := room.Status.IsCleaned() && !incoming.Status.IsCleaned()
		mergeRoom(&res, room, &incoming, leases, sticky)
	}
	res.Ignored = ignored(local, remote)
	return res
}

// Revert takes the stored record of one room back after a local write to it
// was abandoned. Leased fields stay local, but a local cleaned status is not
// kept: it never reached the store.
func Revert(local *roster.Roster, remote *roster.Document, number string, leases lease.Checker) Result {
	next := local.Clone()
	res := Result{Next: next, Decision: DecisionMerge, Kept: make(map[string][]string)}
	room := next.Lookup(number)
	incoming, ok := remote.Rooms[number]
	if room == nil || !ok || !incoming.Status.Valid() {
		return res
	}
	mergeRoom(&res, room, &incoming, leases, false)
	return res
}

func mergeRoom(res *Result, room, incoming *roster.Room, leases lease.Checker, sticky bool) {
	entity := RoomEntity(room.Number)
	heldBySticky := false
	dirty := false
	for _, f := range roster.Fields() {
		if f.Equal(room, incoming) {
			continue
		}
		if leases != nil && leases.IsLeased(entity, f.Name) {
			res.Kept[room.Number] = append(res.Kept[room.Number], f.Name)
			continue
		}
		if sticky && f.StatusGroup {
			heldBySticky = true
			continue
		}
		f.Copy(room, incoming)
		dirty = true
	}
	if heldBySticky {
		res.Sticky = append(res.Sticky, room.Number)
	}
	if dirty {
		res.Changed = append(res.Changed, room.Number)
	}
}

func ignored(local *roster.Roster, remote *roster.Document) []string {
	var out []string
	for number, room := range remote.Rooms {
		if !local.Has(number) || !room.Status.Valid() {
			out = append(out, number)
		}
	}
	out = append(out, remote.Skipped...)
	sort.Strings(out)
	return out
}

func changed(before, after *roster.Roster) []string {
	var out []string
	for i := range after.Rooms {
		if len(roster.ChangedFields(&before.Rooms[i], &after.Rooms[i])) > 0 {
			out = append(out, after.Rooms[i].Number)
		}
	}
	return out
}

// Counters keeps the local counters while they are leased, and otherwise
// takes the remote counters whole.
func Counters(local, remote roster.Counters, leases lease.Checker) (roster.Counters, bool) {
	if leases != nil && leases.IsLeased(EntityCounters, "*") {
		return local, true
	}
	return remote.Clone(), false
}

// Note keeps a leased local note text.
func Note(local, remote roster.Note, leases lease.Checker) (roster.Note, bool) {
	if leases != nil && leases.IsLeased(EntityNotes, "text") {
		return local, true
	}
	return remote, false
}

// Area field names.
const (
	AreaFieldStatus    = "status"
	AreaFieldAssignee  = "assignee"
	AreaFieldFlagColor = "flagColor"
)

// Area merges a common area record with the same lease rule as rooms.
func Area(local, remote roster.Area, leases lease.Checker) (roster.Area, []string) {
	entity := AreaEntity(local.ID)
	leased := func(field string) bool {
		return leases != nil && leases.IsLeased(entity, field)
	}

	next := local
	var kept []string
	if leased(AreaFieldStatus) {
		kept = append(kept, AreaFieldStatus)
	} else {
		next.Status = remote.Status
	}
	if leased(AreaFieldAssignee) {
		kept = append(kept, AreaFieldAssignee)
	} else {
		next.Assignee = remote.Assignee
	}
	if leased(AreaFieldFlagColor) {
		kept = append(kept, AreaFieldFlagColor)
	} else {
		next.FlagColor = remote.FlagColor
	}
	return next, kept
}
