package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.uber.org/zap"
)

// MarkAreaDone records a common area slot as cleaned by the logged-in
// housekeeper.
func (s *Session) MarkAreaDone(ctx context.Context, id string) error {
	return s.do(ctx, func(ctx context.Context) error {
		who, err := s.requireStaff("operate common areas")
		if err != nil {
			return err
		}
		before, err := s.localArea(id)
		if err != nil {
			return err
		}
		after := before
		after.Status = roster.AreaDone
		after.Assignee = who.Name
		after.FlagColor = roster.FlagBlack
		return s.commitArea(actorContext(ctx, who), who, before, after)
	})
}

// ToggleAreaClaim flips the claim flag of a common area slot.
func (s *Session) ToggleAreaClaim(ctx context.Context, id string) error {
	return s.do(ctx, func(ctx context.Context) error {
		who, err := s.requireStaff("operate common areas")
		if err != nil {
			return err
		}
		before, err := s.localArea(id)
		if err != nil {
			return err
		}
		after := before
		if before.FlagColor == roster.FlagRed {
			after.FlagColor = roster.FlagBlack
		} else {
			after.FlagColor = roster.FlagRed
		}
		after.Assignee = who.Name
		return s.commitArea(actorContext(ctx, who), who, before, after)
	})
}

func (s *Session) localArea(id string) (roster.Area, error) {
	a, ok := s.areas[id]
	if !ok {
		return roster.Area{}, fmt.Errorf("%w: %s", ErrUnknownArea, id)
	}
	return a, nil
}

// commitArea writes the changed fields of an area record as a merge patch,
// together with the identifying fields so a first write creates a complete
// record.
func (s *Session) commitArea(ctx context.Context, who roster.Identity, before, after roster.Area) error {
	patch := map[string]any{}
	if after.Status != before.Status {
		patch[reconcile.AreaFieldStatus] = after.Status
	}
	if after.Assignee != before.Assignee {
		patch[reconcile.AreaFieldAssignee] = after.Assignee
	}
	if after.FlagColor != before.FlagColor {
		patch[reconcile.AreaFieldFlagColor] = after.FlagColor
	}
	if len(patch) == 0 {
		return nil
	}
	fields := make([]string, 0, len(patch))
	for name := range patch {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	patch["id"] = after.ID
	patch["area"] = after.Area
	patch["timeSlot"] = after.TimeSlot
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding area patch: %w", err)
	}

	entry := &journal.Entry{Action: journal.ActionArea, Detail: after.ID, From: string(before.Status), To: string(after.Status)}
	s.stampEntry(entry, who)
	l := s.leases.Acquire(reconcile.AreaEntity(after.ID), fields...)
	op := &writeOp{
		doc:    roster.AreaDocID(after.ID),
		mutate: docstore.WriteFunc(data, true),
		lease:  l,
		actor:  who,
		entry:  entry,
	}
	if err := s.enqueue(op); err != nil {
		s.leases.Release(l)
		return err
	}

	s.mu.Lock()
	s.areas[after.ID] = after
	s.mu.Unlock()

	s.logger.Debug(ctx, "area changed locally", zap.String("area", after.ID), zap.Strings("fields", fields))
	s.emit(Event{Type: EventArea, Doc: op.doc, Detail: after.ID})
	return nil
}

// SaveNote replaces the front desk note.
func (s *Session) SaveNote(ctx context.Context, text string) error {
	return s.do(ctx, func(ctx context.Context) error {
		who, err := s.requireIdentity()
		if err != nil {
			return err
		}
		next := roster.Note{Text: text, UpdatedBy: who.Name, UpdatedAt: s.now().UTC()}
		if next.Text == s.note.Text {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding note: %w", err)
		}

		entry := &journal.Entry{Action: journal.ActionNote}
		s.stampEntry(entry, who)
		l := s.leases.Acquire(reconcile.EntityNotes, "text")
		op := &writeOp{
			doc:    roster.NotesDocID,
			mutate: docstore.WriteFunc(data, false),
			lease:  l,
			actor:  who,
			entry:  entry,
		}
		if err := s.enqueue(op); err != nil {
			s.leases.Release(l)
			return err
		}

		s.mu.Lock()
		s.note = next
		s.mu.Unlock()
		s.emit(Event{Type: EventNote, Doc: roster.NotesDocID})
		return nil
	})
}
