package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.uber.org/zap"
)

// SetStatus changes the status of a room.
//
// Housekeeping is recorded as the last editor, and entering a cleaned status
// credits them with the cleaning and clears any claim. The front desk only
// changes the status and keeps existing attribution.
func (s *Session) SetStatus(ctx context.Context, number string, status roster.Status) error {
	status = status.Normalize()
	if !status.Valid() {
		return fmt.Errorf("%w: %q", roster.ErrUnknownStatus, status)
	}
	return s.do(ctx, func(ctx context.Context) error {
		id, err := s.requireIdentity()
		if err != nil {
			return err
		}
		before, err := s.localRoom(number)
		if err != nil {
			return err
		}

		after := before
		applyStatus(&after, status, id, s.now())
		return s.commitRoom(actorContext(ctx, id), id, before, after, &journal.Entry{
			Action: journal.ActionStatus,
			From:   string(before.Status),
			To:     string(status),
		})
	})
}

func applyStatus(room *roster.Room, to roster.Status, id roster.Identity, now time.Time) {
	entering := to.IsCleaned() && room.Status != to
	room.SetStatus(to, now)
	if entering {
		room.CleanedToday = true
	}
	if id.Privileged() {
		return
	}
	room.LastEditor = id.Name
	if entering {
		room.CleanedBy = id.Name
		room.Assignee = id.Name
		room.ClaimedBy = ""
		room.FlagColor = roster.FlagBlack
	}
}

// SaveRemark replaces the remark of a room, stamped with who reported it. An
// empty text clears the remark.
func (s *Session) SaveRemark(ctx context.Context, number, text string) error {
	return s.do(ctx, func(ctx context.Context) error {
		id, err := s.requireIdentity()
		if err != nil {
			return err
		}
		before, err := s.localRoom(number)
		if err != nil {
			return err
		}

		after := before
		after.Remark = roster.StampRemark(text, id.Name, s.now())
		if !id.Privileged() {
			after.LastEditor = id.Name
		}
		return s.commitRoom(actorContext(ctx, id), id, before, after, &journal.Entry{
			Action: journal.ActionRemark,
			Detail: after.Remark,
		})
	})
}

// ToggleClaim flips the claim flag of a room for the logged-in housekeeper.
func (s *Session) ToggleClaim(ctx context.Context, number string) error {
	return s.do(ctx, func(ctx context.Context) error {
		id, err := s.requireStaff("claim rooms")
		if err != nil {
			return err
		}
		before, err := s.localRoom(number)
		if err != nil {
			return err
		}

		after := before
		if before.Flag() == roster.FlagRed {
			after.FlagColor = roster.FlagBlack
			after.ClaimedBy = ""
		} else {
			after.FlagColor = roster.FlagRed
			after.ClaimedBy = id.Name
		}
		after.LastEditor = id.Name
		return s.commitRoom(actorContext(ctx, id), id, before, after, &journal.Entry{
			Action: journal.ActionClaim,
			Detail: string(after.FlagColor),
		})
	})
}

// BeginEdit protects every field of a room from remote changes while its
// editor is open, until CancelEdit, a committed change, or lease expiry.
func (s *Session) BeginEdit(ctx context.Context, number string) error {
	return s.do(ctx, func(ctx context.Context) error {
		if _, err := s.requireIdentity(); err != nil {
			return err
		}
		if _, err := s.localRoom(number); err != nil {
			return err
		}
		if prev := s.editing[number]; prev != nil {
			s.leases.Release(prev)
		}
		fields := make([]string, 0, len(roster.Fields()))
		for _, f := range roster.Fields() {
			fields = append(fields, f.Name)
		}
		s.editing[number] = s.leases.Acquire(reconcile.RoomEntity(number), fields...)
		s.metrics.ActiveLeases.Set(float64(s.leases.Active()))
		return nil
	})
}

// CancelEdit closes the editor of a room. Remote changes that arrived while
// it was open are adopted immediately.
func (s *Session) CancelEdit(ctx context.Context, number string) error {
	return s.do(ctx, func(ctx context.Context) error {
		if _, err := s.localRoom(number); err != nil {
			return err
		}
		l := s.editing[number]
		if l == nil {
			return nil
		}
		s.leases.Release(l)
		delete(s.editing, number)
		s.metrics.ActiveLeases.Set(float64(s.leases.Active()))
		s.readopt(ctx, roster.RosterDocID)
		return nil
	})
}

// Leased returns the fields of a room currently protected from remote
// changes on this device.
func (s *Session) Leased(number string) []string {
	fields := s.leases.Leased(reconcile.RoomEntity(number))
	sort.Strings(fields)
	return fields
}

func (s *Session) localRoom(number string) (roster.Room, error) {
	room, ok := s.roster.Room(number)
	if !ok {
		return roster.Room{}, fmt.Errorf("%w: %s", ErrUnknownRoom, number)
	}
	return room, nil
}

// commitRoom applies a local change to one room and queues its write. The
// changed fields are leased until the store acknowledges the write.
func (s *Session) commitRoom(ctx context.Context, id roster.Identity, before, after roster.Room, entry *journal.Entry) error {
	patch := roster.Diff(&before, &after)
	if len(patch) == 0 {
		return nil
	}
	fields := make([]string, 0, len(patch))
	for name := range patch {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	number := before.Number
	l := s.leases.Acquire(reconcile.RoomEntity(number), fields...)
	entry.Room = number
	s.stampEntry(entry, id)
	op := &writeOp{
		doc:    roster.RosterDocID,
		mutate: reconcile.RoomWrite(number, before.Status, patch),
		lease:  l,
		actor:  id,
		entry:  entry,
		before: &before,
	}
	if err := s.enqueue(op); err != nil {
		s.leases.Release(l)
		return err
	}
	if edit := s.editing[number]; edit != nil {
		s.leases.Release(edit)
		delete(s.editing, number)
	}

	s.mu.Lock()
	*s.roster.Lookup(number) = after
	s.mu.Unlock()

	s.logger.Debug(ctx, "room changed locally", zap.String("room", number), zap.Strings("fields", fields))
	s.emit(Event{Type: EventRooms, Doc: roster.RosterDocID, Rooms: []string{number}})
	return nil
}

func (s *Session) stampEntry(e *journal.Entry, id roster.Identity) {
	e.At = s.now()
	e.Actor = id.Name
	e.Role = string(id.Role)
	e.Device = s.cfg.DeviceID
}
