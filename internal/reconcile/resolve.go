package reconcile

import (
	"encoding/json"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
)

// RoomWrite returns the store mutation for a local change to one room.
//
// base is the status the change was made from. If by the time the write
// lands the store holds a different status, another device changed the room
// in the meantime: the higher priority status stays, and on a tie the first
// writer keeps it. A change that loses keeps only its fields outside the
// status group.
func RoomWrite(number string, base roster.Status, patch map[string]any) docstore.MutateFunc {
	return func(current []byte) ([]byte, error) {
		fields := patch
		if want, ok := patch[roster.FieldStatus].(roster.Status); ok {
			if cur, found := storedStatus(current, number); found && cur != base && cur.Priority() >= want.Priority() {
				fields = withoutStatusGroup(patch)
			}
		}
		data, err := roster.RoomPatch(number, fields)
		if err != nil {
			return nil, err
		}
		return docstore.WriteFunc(data, true)(current)
	}
}

func storedStatus(current []byte, number string) (roster.Status, bool) {
	if current == nil {
		return "", false
	}
	var doc struct {
		Rooms map[string]struct {
			Status roster.Status `json:"status"`
		} `json:"rooms"`
	}
	if err := json.Unmarshal(current, &doc); err != nil {
		return "", false
	}
	room, ok := doc.Rooms[number]
	if !ok || !room.Status.Valid() {
		return "", false
	}
	return room.Status, true
}

func withoutStatusGroup(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		out[k] = v
	}
	for _, name := range roster.StatusGroupFields() {
		delete(out, name)
	}
	return out
}
