package device

import (
	"context"
	"reflect"
	"strings"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/lease"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// reconcile merges one remote snapshot into the cache.
func (s *Session) reconcile(ctx context.Context, doc *docstore.Document) {
	ctx, span := s.tracer.Start(ctx, "device.reconcile", trace.WithAttributes(
		attribute.String("doc", doc.ID),
		attribute.Int64("revision", int64(doc.Revision)),
	))
	defer span.End()

	switch {
	case doc.ID == roster.RosterDocID:
		s.reconcileRoster(ctx, span, doc)
	case doc.ID == roster.CountersDocID:
		s.reconcileCounters(ctx, doc)
	case doc.ID == roster.NotesDocID:
		s.reconcileNote(ctx, doc)
	case s.isAreaDoc(doc.ID):
		s.reconcileArea(ctx, doc)
	}
}

func (s *Session) reconcileRoster(ctx context.Context, span trace.Span, doc *docstore.Document) {
	remote, err := roster.DecodeDocument(doc.Data)
	if err != nil {
		s.malformed(ctx, doc, err)
		return
	}

	res := reconcile.Roster(s.roster, remote, s.leases)
	if res.Decision == reconcile.DecisionReset {
		s.dropLeases()
	}

	s.mu.Lock()
	s.roster = res.Next
	s.mu.Unlock()

	s.metrics.ReconcileTotal.WithLabelValues(doc.ID, string(res.Decision)).Inc()
	span.SetAttributes(
		attribute.String("decision", string(res.Decision)),
		attribute.Int("changed", len(res.Changed)),
	)
	for number, fields := range res.Kept {
		s.metrics.KeptFieldsTotal.WithLabelValues("lease").Inc()
		s.logger.Trace(ctx, "kept leased fields", zap.String("room", number), zap.Strings("fields", fields))
	}
	for _, number := range res.Sticky {
		s.metrics.KeptFieldsTotal.WithLabelValues("sticky").Inc()
		s.logger.Trace(ctx, "kept cleaned status", zap.String("room", number))
	}
	if len(res.Ignored) > 0 {
		s.logger.Debug(ctx, "ignored rooms in snapshot", zap.Strings("rooms", res.Ignored))
	}

	switch res.Decision {
	case reconcile.DecisionReset:
		s.logger.Info(ctx, "applied roster reset", zap.String("reset_id", remote.Reset.ID), zap.String("by", remote.Reset.By))
		s.emit(Event{Type: EventReset, Doc: doc.ID, Rooms: res.Changed, Detail: remote.Reset.ID})
	case reconcile.DecisionInitial:
		s.logger.Debug(ctx, "loaded roster", zap.Uint64("revision", doc.Revision))
		s.emit(Event{Type: EventRooms, Doc: doc.ID, Rooms: res.Changed, Detail: string(res.Decision)})
	default:
		if len(res.Changed) > 0 {
			s.emit(Event{Type: EventRooms, Doc: doc.ID, Rooms: res.Changed})
		}
	}
}

// dropLeases forgets every lease, including open editors.
func (s *Session) dropLeases() {
	s.leases.Clear()
	s.editing = make(map[string]*lease.Lease)
	s.metrics.ActiveLeases.Set(0)
}

func (s *Session) reconcileCounters(ctx context.Context, doc *docstore.Document) {
	remote, err := roster.DecodeCounters(doc.Data)
	if err != nil {
		s.malformed(ctx, doc, err)
		return
	}
	next, kept := reconcile.Counters(s.counters, remote, s.leases)
	s.metrics.ReconcileTotal.WithLabelValues(doc.ID, string(reconcile.DecisionMerge)).Inc()
	if kept || reflect.DeepEqual(next, s.counters) {
		return
	}
	s.mu.Lock()
	s.counters = next
	s.mu.Unlock()
	s.emit(Event{Type: EventCounters, Doc: doc.ID})
}

func (s *Session) reconcileNote(ctx context.Context, doc *docstore.Document) {
	remote, err := roster.DecodeNote(doc.Data)
	if err != nil {
		s.malformed(ctx, doc, err)
		return
	}
	next, kept := reconcile.Note(s.note, remote, s.leases)
	s.metrics.ReconcileTotal.WithLabelValues(doc.ID, string(reconcile.DecisionMerge)).Inc()
	if kept || next == s.note {
		return
	}
	s.mu.Lock()
	s.note = next
	s.mu.Unlock()
	s.emit(Event{Type: EventNote, Doc: doc.ID})
}

func (s *Session) reconcileArea(ctx context.Context, doc *docstore.Document) {
	id := strings.TrimPrefix(doc.ID, roster.AreaDocPrefix)
	local, ok := s.areas[id]
	if !ok {
		s.logger.Debug(ctx, "ignored unknown area", zap.String("area", id))
		return
	}
	remote, err := roster.DecodeArea(doc.Data)
	if err != nil {
		s.malformed(ctx, doc, err)
		return
	}

	next, kept := reconcile.Area(local, remote, s.leases)
	s.metrics.ReconcileTotal.WithLabelValues("areas", string(reconcile.DecisionMerge)).Inc()
	if len(kept) > 0 {
		s.logger.Trace(ctx, "kept leased area fields", zap.String("area", id), zap.Strings("fields", kept))
	}
	if next == local {
		return
	}
	s.mu.Lock()
	s.areas[id] = next
	s.mu.Unlock()
	s.emit(Event{Type: EventArea, Doc: doc.ID, Detail: id})
}

// malformed records a snapshot that could not be applied. The cache is left
// as it was. Only the revision is kept, so older snapshots stay dropped but
// nothing is left to re-reconcile.
func (s *Session) malformed(ctx context.Context, doc *docstore.Document, err error) {
	s.lastRemote[doc.ID] = &docstore.Document{ID: doc.ID, Revision: doc.Revision, UpdatedAt: doc.UpdatedAt}
	s.metrics.MalformedTotal.WithLabelValues(docClass(doc.ID)).Inc()
	s.logger.Warn(ctx, "ignored malformed snapshot",
		zap.String("doc", doc.ID),
		zap.Uint64("revision", doc.Revision),
		zap.Error(err))
	s.emit(Event{Type: EventMalformed, Doc: doc.ID, Detail: err.Error()})
}
