// Package roster models the hotel room roster and the shared documents that
// describe it: rooms, common areas, report counters and the front desk note.
package roster

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the cleaning/occupancy state of a room.
type Status string

const (
	StatusVacant          Status = "vacant"
	StatusCleaned         Status = "cleaned"
	StatusCleanedStay     Status = "cleaned_stay"
	StatusClosed          Status = "closed"
	StatusCheckedOut      Status = "checked_out"
	StatusStayClean       Status = "stay_clean"
	StatusWillDepartToday Status = "will_depart_today"
	StatusLongStay        Status = "long_stay"
)

// statusMovedOut is a retired alias that older documents may still carry.
const statusMovedOut Status = "moved_out"

// ErrUnknownStatus is returned when a status string is not recognized.
var ErrUnknownStatus = errors.New("unknown room status")

// statusPriority orders statuses for resolving two devices changing the
// same room in the same instant. Higher wins.
var statusPriority = map[Status]int{
	StatusCleaned:         8,
	StatusCleanedStay:     7,
	StatusClosed:          6,
	StatusCheckedOut:      5,
	StatusWillDepartToday: 4,
	StatusStayClean:       3,
	StatusLongStay:        2,
	StatusVacant:          1,
}

// AllStatuses returns every valid status in display order.
func AllStatuses() []Status {
	return []Status{
		StatusVacant,
		StatusCleaned,
		StatusCleanedStay,
		StatusClosed,
		StatusCheckedOut,
		StatusStayClean,
		StatusWillDepartToday,
		StatusLongStay,
	}
}

// ParseStatus parses and normalizes a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s)).Normalize()
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Normalize maps deprecated aliases onto their current status.
func (s Status) Normalize() Status {
	if s == statusMovedOut {
		return StatusCheckedOut
	}
	return s
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusPriority[s]
	return ok
}

// IsCleaned reports whether s is a cleaned variant. Cleaned statuses are
// sticky: only an explicit local action may move a room out of them.
func (s Status) IsCleaned() bool {
	return s == StatusCleaned || s == StatusCleanedStay
}

// IsReportDriven reports whether s is only ever set by an ingested report and
// may therefore be expired with it.
func (s Status) IsReportDriven() bool {
	return s == StatusCheckedOut || s == StatusStayClean || s == StatusWillDepartToday
}

// Priority returns the tie-break rank of s. Unknown statuses rank 0.
func (s Status) Priority() int {
	return statusPriority[s]
}

// UnmarshalText normalizes on decode so moved_out never reaches the cache.
func (s *Status) UnmarshalText(text []byte) error {
	*s = Status(strings.TrimSpace(string(text))).Normalize()
	return nil
}

func (s Status) String() string {
	return string(s)
}
