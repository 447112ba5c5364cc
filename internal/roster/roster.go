package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Shared document identifiers.
const (
	RosterDocID   = "roster"
	CountersDocID = "counters"
	NotesDocID    = "notes"
	AreaDocPrefix = "areas."
)

// ErrMalformed marks a shared document that cannot be applied.
var ErrMalformed = errors.New("malformed document")

// Roster is the ordered, fixed set of rooms as one device sees it.
type Roster struct {
	Rooms []Room
	// ResetID is the id of the last reset marker this roster absorbed.
	ResetID string
	// Loaded is false until the first remote snapshot has been applied.
	Loaded bool

	index map[string]int
}

// New builds a roster over rooms in the given order.
func New(rooms []Room) *Roster {
	r := &Roster{
		Rooms: rooms,
		index: make(map[string]int, len(rooms)),
	}
	for i := range rooms {
		r.index[rooms[i].Number] = i
	}
	return r
}

// Clone returns a deep copy that can be mutated independently.
func (r *Roster) Clone() *Roster {
	rooms := make([]Room, len(r.Rooms))
	copy(rooms, r.Rooms)
	return &Roster{
		Rooms:   rooms,
		ResetID: r.ResetID,
		Loaded:  r.Loaded,
		index:   r.index,
	}
}

// Lookup returns a pointer into the roster for number, or nil.
func (r *Roster) Lookup(number string) *Room {
	i, ok := r.index[number]
	if !ok {
		return nil
	}
	return &r.Rooms[i]
}

// Room returns a copy of the room with the given number.
func (r *Roster) Room(number string) (Room, bool) {
	if p := r.Lookup(number); p != nil {
		return *p, true
	}
	return Room{}, false
}

// Has reports whether number belongs to the roster.
func (r *Roster) Has(number string) bool {
	_, ok := r.index[number]
	return ok
}

// Len returns the number of rooms.
func (r *Roster) Len() int {
	return len(r.Rooms)
}

// ResetMarker records an explicit whole-roster reset.
type ResetMarker struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
	By string    `json:"by"`
}

// Document is the wire form of the roster: rooms keyed by number so a single
// room can be changed with a merge patch.
type Document struct {
	Rooms map[string]Room `json:"rooms"`
	Reset *ResetMarker    `json:"reset,omitempty"`
	// Skipped lists rooms present in the payload that failed to decode.
	Skipped []string `json:"-"`
}

// DecodeDocument parses a roster document. A payload without a rooms map is
// malformed; individual undecodable rooms are skipped and reported.
func DecodeDocument(data []byte) (*Document, error) {
	var raw struct {
		Rooms map[string]json.RawMessage `json:"rooms"`
		Reset *ResetMarker               `json:"reset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Rooms == nil {
		return nil, fmt.Errorf("%w: missing rooms", ErrMalformed)
	}

	doc := &Document{
		Rooms: make(map[string]Room, len(raw.Rooms)),
		Reset: raw.Reset,
	}
	for number, msg := range raw.Rooms {
		var room Room
		if err := json.Unmarshal(msg, &room); err != nil {
			doc.Skipped = append(doc.Skipped, number)
			continue
		}
		room.Number = number
		doc.Rooms[number] = room
	}
	return doc, nil
}

// Encode serializes the document.
func (d *Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// Document returns the full wire form of the roster.
func (r *Roster) Document() *Document {
	doc := &Document{Rooms: make(map[string]Room, len(r.Rooms))}
	for _, room := range r.Rooms {
		doc.Rooms[room.Number] = room
	}
	return doc
}

// Apply overwrites every known room from doc, ignoring rooms not in the
// roster and keeping rooms the document does not mention.
func (r *Roster) Apply(doc *Document) {
	for number, remote := range doc.Rooms {
		local := r.Lookup(number)
		if local == nil || !remote.Status.Valid() {
			continue
		}
		for _, f := range roomFields {
			f.Copy(local, &remote)
		}
	}
	if doc.Reset != nil {
		r.ResetID = doc.Reset.ID
	}
	r.Loaded = true
}

// RoomPatch builds the merge patch document for a change to one room.
func RoomPatch(number string, fields map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"rooms": map[string]any{number: fields},
	})
}
