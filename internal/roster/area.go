package roster

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AreaStatus is the cleaning state of a common area slot.
type AreaStatus string

const (
	AreaWaiting AreaStatus = "waiting"
	AreaDone    AreaStatus = "done"
)

// TimeSlot is the half-day a common area is cleaned in.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
)

// Area is the shared record for one common area in one time slot.
type Area struct {
	ID        string     `json:"id"`
	Area      string     `json:"area"`
	TimeSlot  TimeSlot   `json:"timeSlot"`
	Status    AreaStatus `json:"status"`
	Assignee  string     `json:"assignee,omitempty"`
	FlagColor FlagColor  `json:"flagColor,omitempty"`
}

// AreaID builds the record id for area in slot.
func AreaID(area string, slot TimeSlot) string {
	return area + "-" + string(slot)
}

// AreaDocID is the shared document id holding an area record.
func AreaDocID(id string) string {
	return AreaDocPrefix + id
}

// Areas returns every common area record of the property in display order,
// each waiting. Every floor contributes a hallway.
func (d *Definition) Areas() []Area {
	names := append([]string{}, d.AreaNames...)
	for _, level := range d.FloorLevels() {
		names = append(names, "hall-"+strconv.Itoa(level))
	}

	areas := make([]Area, 0, len(names)*2)
	for _, name := range names {
		for _, slot := range []TimeSlot{SlotMorning, SlotAfternoon} {
			areas = append(areas, Area{
				ID:        AreaID(name, slot),
				Area:      name,
				TimeSlot:  slot,
				Status:    AreaWaiting,
				FlagColor: FlagBlack,
			})
		}
	}
	return areas
}

// DecodeArea parses an area document.
func DecodeArea(data []byte) (Area, error) {
	var a Area
	if err := json.Unmarshal(data, &a); err != nil {
		return Area{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if a.Status == "" {
		a.Status = AreaWaiting
	}
	if a.Status != AreaWaiting && a.Status != AreaDone {
		return Area{}, fmt.Errorf("%w: area status %q", ErrMalformed, a.Status)
	}
	return a, nil
}
