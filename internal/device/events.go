package device

import (
	"context"
	"time"
)

// EventType classifies a change notification.
type EventType string

const (
	EventRooms     EventType = "rooms"
	EventCounters  EventType = "counters"
	EventNote      EventType = "note"
	EventArea      EventType = "area"
	EventReset     EventType = "reset"
	EventSync      EventType = "sync"
	EventSession   EventType = "session"
	EventMalformed EventType = "malformed"
)

// Event tells watchers that part of the local view changed.
type Event struct {
	Type EventType `json:"type"`
	Doc  string    `json:"doc,omitempty"`
	// Rooms lists the rooms that changed, for room events.
	Rooms  []string  `json:"rooms,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

const watchBuffer = 64

// Watch returns a channel of change events that is closed when ctx ends or
// the session closes. A watcher that falls behind misses events rather than
// stalling the session.
func (s *Session) Watch(ctx context.Context) <-chan Event {
	ch := make(chan Event, watchBuffer)

	s.watchMu.Lock()
	if s.watchers == nil {
		close(ch)
		s.watchMu.Unlock()
		return ch
	}
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.watchMu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.watchMu.Unlock()
	}()
	return ch
}

func (s *Session) emit(e Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Session) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
}
