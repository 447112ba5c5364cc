package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ReportKind is the type of a scanned front desk report.
type ReportKind string

const (
	ReportDeparture ReportKind = "departure"
	ReportInhouse   ReportKind = "inhouse"
)

// ErrUnknownReportKind is returned for a report kind other than departure or
// inhouse.
var ErrUnknownReportKind = errors.New("unknown report kind")

// ParseReportKind parses a report kind.
func ParseReportKind(s string) (ReportKind, error) {
	switch k := ReportKind(s); k {
	case ReportDeparture, ReportInhouse:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReportKind, s)
}

// ReportEntry records one ingested report for later expiry.
type ReportEntry struct {
	Kind  ReportKind `json:"kind"`
	At    time.Time  `json:"at"`
	Rooms []string   `json:"rooms"`
}

// Counters is the shared summary of the latest reports. It is always written
// whole.
type Counters struct {
	DepartureCount int           `json:"departureCount"`
	InhouseCount   int           `json:"inhouseCount"`
	DepartureRooms []string      `json:"departureRooms"`
	InhouseRooms   []string      `json:"inhouseRooms"`
	Reports        []ReportEntry `json:"reports"`
}

// DecodeCounters parses a counters document.
func DecodeCounters(data []byte) (Counters, error) {
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		return Counters{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}

// Encode serializes the counters.
func (c Counters) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Clone returns a copy that shares no slices with c.
func (c Counters) Clone() Counters {
	out := c
	out.DepartureRooms = append([]string(nil), c.DepartureRooms...)
	out.InhouseRooms = append([]string(nil), c.InhouseRooms...)
	out.Reports = make([]ReportEntry, len(c.Reports))
	for i, r := range c.Reports {
		r.Rooms = append([]string(nil), r.Rooms...)
		out.Reports[i] = r
	}
	return out
}

// Rooms returns the matched rooms of the latest report of kind.
func (c Counters) Rooms(kind ReportKind) []string {
	if kind == ReportDeparture {
		return c.DepartureRooms
	}
	return c.InhouseRooms
}

// Note is the shared front desk note.
type Note struct {
	Text      string    `json:"text"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DecodeNote parses a notes document.
func DecodeNote(data []byte) (Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return n, nil
}
