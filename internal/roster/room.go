package roster

import (
	"strings"
	"time"
)

// Category is the room class code printed on the housekeeping board.
type Category string

// IsSuite reports whether the category is a suite class.
func (c Category) IsSuite() bool {
	return strings.HasPrefix(string(c), "S")
}

// Weight is the workload weight of one room of this category.
func (c Category) Weight() int {
	if c.IsSuite() {
		return 2
	}
	return 1
}

// FlagColor is the border color of a room or area card.
type FlagColor string

const (
	FlagBlack FlagColor = "black"
	FlagRed   FlagColor = "red"
)

// Room is the shared record for one physical room.
type Room struct {
	Number       string     `json:"number"`
	Category     Category   `json:"category"`
	Floor        int        `json:"floor"`
	Status       Status     `json:"status"`
	Assignee     string     `json:"assignee,omitempty"`
	Remark       string     `json:"remark,omitempty"`
	FlagColor    FlagColor  `json:"flagColor,omitempty"`
	CleanedToday bool       `json:"cleanedToday,omitempty"`
	LastEditor   string     `json:"lastEditor,omitempty"`
	CleanedBy    string     `json:"cleanedBy,omitempty"`
	ClaimedBy    string     `json:"claimedBy,omitempty"`
	VacantSince  *time.Time `json:"vacantSince,omitempty"`
}

// Flag returns the flag color, treating an unset flag as black.
func (r *Room) Flag() FlagColor {
	if r.FlagColor == "" {
		return FlagBlack
	}
	return r.FlagColor
}

// Points is the scoreboard credit this room earns its assignee.
func (r *Room) Points() int {
	if !r.Status.IsCleaned() || r.Assignee == "" {
		return 0
	}
	return r.Category.Weight()
}

// VacantDays is the number of whole days the room has been vacant at now.
func (r *Room) VacantDays(now time.Time) int {
	if r.Status != StatusVacant || r.VacantSince == nil {
		return 0
	}
	d := now.Sub(*r.VacantSince)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// SetStatus changes the status and keeps vacantSince in step with it.
func (r *Room) SetStatus(s Status, now time.Time) {
	if s == StatusVacant {
		if r.Status != StatusVacant || r.VacantSince == nil {
			t := now.UTC()
			r.VacantSince = &t
		}
	} else {
		r.VacantSince = nil
	}
	r.Status = s
}
