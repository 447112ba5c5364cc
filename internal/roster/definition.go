package roster

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed default_roster.toml
var defaultDefinition []byte

// ErrInvalidDefinition is returned for a roster definition that cannot be
// used to seed a property.
var ErrInvalidDefinition = errors.New("invalid roster definition")

// Definition is the deploy-time layout of the property.
type Definition struct {
	Protected []string   `toml:"protected"`
	AreaNames []string   `toml:"areas"`
	Floors    []FloorDef `toml:"floor"`

	rooms     []Room
	protected map[string]bool
}

// FloorDef lists the rooms on one floor as "<number>:<category>".
type FloorDef struct {
	Level int      `toml:"level"`
	Rooms []string `toml:"rooms"`
}

// DefaultDefinition returns the built-in property layout.
func DefaultDefinition() *Definition {
	def, err := ParseDefinition(defaultDefinition)
	if err != nil {
		panic(fmt.Sprintf("roster: embedded definition: %v", err))
	}
	return def
}

// LoadDefinition reads a definition file, or returns the built-in layout
// when path is empty.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a TOML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if _, err := toml.Decode(string(data), &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.build(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) build() error {
	if len(d.Floors) == 0 {
		return fmt.Errorf("%w: no floors", ErrInvalidDefinition)
	}
	seen := make(map[string]bool)
	for _, floor := range d.Floors {
		if floor.Level < 1 || floor.Level > 9 {
			return fmt.Errorf("%w: floor level %d out of range", ErrInvalidDefinition, floor.Level)
		}
		for _, entry := range floor.Rooms {
			number, category, ok := strings.Cut(entry, ":")
			if !ok || category == "" {
				return fmt.Errorf("%w: room entry %q needs <number>:<category>", ErrInvalidDefinition, entry)
			}
			if len(number) != 3 || number[0] != byte('0'+floor.Level) {
				return fmt.Errorf("%w: room %s is not on floor %d", ErrInvalidDefinition, number, floor.Level)
			}
			if seen[number] {
				return fmt.Errorf("%w: duplicate room %s", ErrInvalidDefinition, number)
			}
			seen[number] = true
			d.rooms = append(d.rooms, Room{
				Number:   number,
				Category: Category(category),
				Floor:    floor.Level,
			})
		}
	}

	d.protected = make(map[string]bool, len(d.Protected))
	for _, number := range d.Protected {
		if !seen[number] {
			return fmt.Errorf("%w: protected room %s is not in the roster", ErrInvalidDefinition, number)
		}
		d.protected[number] = true
	}
	return nil
}

// FloorLevels returns the floors in definition order.
func (d *Definition) FloorLevels() []int {
	levels := make([]int, len(d.Floors))
	for i, f := range d.Floors {
		levels[i] = f.Level
	}
	return levels
}

// IsProtected reports whether number is a protected long-stay room.
func (d *Definition) IsProtected(number string) bool {
	return d.protected[number]
}

// ProtectedSet returns the protected room numbers as a set.
func (d *Definition) ProtectedSet() map[string]bool {
	set := make(map[string]bool, len(d.protected))
	for k := range d.protected {
		set[k] = true
	}
	return set
}

// Seed returns the initial roster: protected rooms long-stay, all others
// vacant since now.
func (d *Definition) Seed(now time.Time) *Roster {
	rooms := make([]Room, len(d.rooms))
	for i, base := range d.rooms {
		rooms[i] = d.resetRoom(base, now)
	}
	return New(rooms)
}

// Reset returns the roster after a whole-roster reset of current. Remarks
// survive; attribution and flags do not.
func (d *Definition) Reset(current *Roster, now time.Time) *Roster {
	next := d.Seed(now)
	for i := range next.Rooms {
		if prev := current.Lookup(next.Rooms[i].Number); prev != nil {
			next.Rooms[i].Remark = prev.Remark
			if prev.Status == StatusVacant && prev.VacantSince != nil {
				next.Rooms[i].VacantSince = prev.VacantSince
			}
		}
	}
	next.ResetID = current.ResetID
	next.Loaded = current.Loaded
	return next
}

func (d *Definition) resetRoom(base Room, now time.Time) Room {
	room := Room{
		Number:    base.Number,
		Category:  base.Category,
		Floor:     base.Floor,
		FlagColor: FlagBlack,
	}
	if d.protected[base.Number] {
		room.Status = StatusLongStay
	} else {
		room.SetStatus(StatusVacant, now)
	}
	return room
}
