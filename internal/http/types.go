package http

import (
	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/fyrsmithlabs/roomsync/internal/scoreboard"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	DeviceID string `json:"device_id"`
	Loaded   bool   `json:"loaded"`
}

// LoginRequest is the request body for POST /api/v1/session.
type LoginRequest struct {
	Name string      `json:"name"`
	Role roster.Role `json:"role"`
}

// SessionResponse is the response body for the session endpoints.
type SessionResponse struct {
	DeviceID string          `json:"device_id"`
	LoggedIn bool            `json:"logged_in"`
	Identity roster.Identity `json:"identity"`
}

// RoomResponse is one room with the fields this device currently leases.
type RoomResponse struct {
	roster.Room
	Leased []string `json:"leased,omitempty"`
}

// RoomsResponse is the response body for GET /api/v1/rooms.
type RoomsResponse struct {
	Rooms   []roster.Room `json:"rooms"`
	ResetID string        `json:"reset_id,omitempty"`
}

// StatusRequest is the request body for PUT /api/v1/rooms/:number/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// RemarkRequest is the request body for PUT /api/v1/rooms/:number/remark.
type RemarkRequest struct {
	Remark string `json:"remark"`
}

// NoteRequest is the request body for PUT /api/v1/notes.
type NoteRequest struct {
	Text string `json:"text"`
}

// ResetResponse is the response body for POST /api/v1/roster/reset.
type ResetResponse struct {
	ResetID string `json:"reset_id"`
}

// ScoreboardResponse is the response body for GET /api/v1/scoreboard.
type ScoreboardResponse struct {
	Scores   []scoreboard.Entry  `json:"scores"`
	Workload scoreboard.Workload `json:"workload"`
}

// VacanciesResponse is the response body for GET /api/v1/vacancies.
type VacanciesResponse struct {
	MinDays   int                  `json:"min_days"`
	Vacancies []scoreboard.Vacancy `json:"vacancies"`
}

// AreasResponse is the response body for GET /api/v1/areas.
type AreasResponse struct {
	Areas []roster.Area `json:"areas"`
}

// SyncResponse is the response body for GET /api/v1/sync.
type SyncResponse struct {
	device.SyncState
	Synced bool `json:"synced"`
}

// HistoryResponse is the response body for GET /api/v1/history.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}
