package device

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.uber.org/zap"
)

// Login sets the person operating this device.
func (s *Session) Login(ctx context.Context, name string, role roster.Role) (roster.Identity, error) {
	id, err := roster.NewIdentity(name, role)
	if err != nil {
		return roster.Identity{}, err
	}
	err = s.do(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		prev := s.identity
		s.identity = id
		s.mu.Unlock()
		if prev != id {
			s.releaseEditors(ctx)
		}
		s.logger.Info(logging.WithActor(ctx, id.Name, string(id.Role)), "logged in")
		s.emit(Event{Type: EventSession, Detail: "login"})
		return nil
	})
	if err != nil {
		return roster.Identity{}, err
	}
	return id, nil
}

// Logout clears the identity and closes any open editors.
func (s *Session) Logout(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		prev := s.identity
		s.identity = roster.Identity{}
		s.mu.Unlock()
		if prev.IsZero() {
			return nil
		}
		s.releaseEditors(ctx)
		s.logger.Info(ctx, "logged out", zap.String("name", prev.Name))
		s.emit(Event{Type: EventSession, Detail: "logout"})
		return nil
	})
}

// Identity returns the logged-in person, or the zero Identity.
func (s *Session) Identity() roster.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) requireIdentity() (roster.Identity, error) {
	id := s.Identity()
	if id.IsZero() {
		return id, ErrNotLoggedIn
	}
	return id, nil
}

// requireFrontDesk admits only the privileged role.
func (s *Session) requireFrontDesk(action string) (roster.Identity, error) {
	id, err := s.requireIdentity()
	if err != nil {
		return id, err
	}
	if !id.Privileged() {
		return id, fmt.Errorf("%w: %s requires the front desk role", ErrForbidden, action)
	}
	return id, nil
}

// requireStaff admits everyone but the front desk, whose name must never
// end up in attribution fields.
func (s *Session) requireStaff(action string) (roster.Identity, error) {
	id, err := s.requireIdentity()
	if err != nil {
		return id, err
	}
	if id.Privileged() {
		return id, fmt.Errorf("%w: front desk may not %s", ErrForbidden, action)
	}
	return id, nil
}

func (s *Session) releaseEditors(ctx context.Context) {
	if len(s.editing) == 0 {
		return
	}
	for number, l := range s.editing {
		s.leases.Release(l)
		delete(s.editing, number)
	}
	s.readopt(ctx, roster.RosterDocID)
}

func actorContext(ctx context.Context, id roster.Identity) context.Context {
	return logging.WithActor(ctx, id.Name, string(id.Role))
}
