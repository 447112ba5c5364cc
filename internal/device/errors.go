package device

import "errors"

var (
	// ErrNotLoggedIn is returned for a mutation while nobody is logged in.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrForbidden is returned when the logged-in role may not perform the
	// action. It is checked before anything is changed.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownRoom is returned for a room number not in the roster.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrUnknownArea is returned for a common area id not in the property.
	ErrUnknownArea = errors.New("unknown area")
	// ErrQueueFull is returned when the background writer cannot accept
	// another write.
	ErrQueueFull = errors.New("write queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("session not started")
)
