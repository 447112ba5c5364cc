package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/ingest"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Upload is a scanned front desk report.
type Upload struct {
	Kind        roster.ReportKind
	Filename    string
	ContentType string
	Body        io.Reader
}

// ReportResult summarizes an ingested report.
type ReportResult struct {
	Kind      roster.ReportKind `json:"kind"`
	Matched   []string          `json:"matched"`
	Unmatched []string          `json:"unmatched"`
	Changed   []string          `json:"changed"`
	Counters  roster.Counters   `json:"counters"`
}

// ExpiryResult summarizes a report expiry pass.
type ExpiryResult struct {
	Expired  int      `json:"expired"`
	Reverted []string `json:"reverted"`
}

// UploadReport extracts room numbers from a report and applies it to the
// shared roster in one atomic replacement, then queues the counters write.
// Input errors are returned before anything is written.
func (s *Session) UploadReport(ctx context.Context, u Upload) (result ReportResult, err error) {
	if !s.started.Load() {
		return ReportResult{}, ErrNotStarted
	}
	id, err := s.requireFrontDesk("uploading reports")
	if err != nil {
		return ReportResult{}, err
	}
	kind, err := roster.ParseReportKind(string(u.Kind))
	if err != nil {
		return ReportResult{}, err
	}

	ctx = actorContext(s.withDevice(ctx), id)
	ctx, span := s.tracer.Start(ctx, "device.upload_report", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("filename", u.Filename),
	))
	defer span.End()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.IngestTotal.WithLabelValues(string(kind), outcome).Inc()
	}()

	extractor, err := ingest.ExtractorFor(u.Filename, u.ContentType)
	if err != nil {
		return ReportResult{}, err
	}
	pages, err := extractor.Extract(ctx, u.Body)
	if err != nil {
		return ReportResult{}, err
	}
	numbers := ingest.ExtractRoomNumbers(pages, s.def.FloorLevels())

	now := s.now()
	counters := s.Counters()
	var (
		res     ingest.Result
		written []byte
	)
	rev, err := s.store.Update(ctx, roster.RosterDocID, func(current []byte) ([]byte, error) {
		cur, marker, err := s.storedRoster(current, now)
		if err != nil {
			return nil, err
		}
		if res, err = ingest.Ingest(kind, numbers, cur, counters, s.def.ProtectedSet(), now); err != nil {
			return nil, err
		}
		doc := res.Next.Document()
		doc.Reset = marker
		written, err = doc.Encode()
		return written, err
	})
	if err != nil {
		return ReportResult{}, fmt.Errorf("ingesting %s report: %w", kind, err)
	}
	doc := &docstore.Document{ID: roster.RosterDocID, Data: written, Revision: rev, UpdatedAt: now}
	if err := s.adoptCommit(ctx, id, doc, res.Changed, res.Counters); err != nil {
		return ReportResult{}, err
	}

	result = ReportResult{
		Kind:      kind,
		Matched:   res.Matched,
		Unmatched: res.Unmatched,
		Changed:   res.Changed,
		Counters:  res.Counters,
	}
	span.SetAttributes(
		attribute.Int("matched", len(res.Matched)),
		attribute.Int("unmatched", len(res.Unmatched)),
		attribute.Int("changed", len(res.Changed)),
	)
	s.logger.Info(ctx, "report ingested",
		zap.String("kind", string(kind)),
		zap.Int("matched", len(res.Matched)),
		zap.Strings("unmatched", res.Unmatched),
		zap.Int("changed", len(res.Changed)))
	s.record(ctx, id, journal.Entry{
		Action: journal.ActionIngest,
		Detail: fmt.Sprintf("%s: %d matched, %d unmatched, %d changed", kind, len(res.Matched), len(res.Unmatched), len(res.Changed)),
	})
	return result, nil
}

// ResetRoster returns every room to its start-of-day state under a new reset
// marker and zeroes the counters. It returns the marker id.
func (s *Session) ResetRoster(ctx context.Context) (string, error) {
	if !s.started.Load() {
		return "", ErrNotStarted
	}
	id, err := s.requireFrontDesk("resetting the roster")
	if err != nil {
		return "", err
	}
	ctx = actorContext(s.withDevice(ctx), id)
	ctx, span := s.tracer.Start(ctx, "device.reset")
	defer span.End()

	now := s.now()
	marker := &roster.ResetMarker{ID: uuid.NewString(), At: now.UTC(), By: id.Name}
	span.SetAttributes(attribute.String("reset_id", marker.ID))

	var written []byte
	rev, err := s.store.Update(ctx, roster.RosterDocID, func(current []byte) ([]byte, error) {
		cur, _, err := s.storedRoster(current, now)
		if err != nil {
			return nil, err
		}
		doc := s.def.Reset(cur, now).Document()
		doc.Reset = marker
		written, err = doc.Encode()
		return written, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("resetting roster: %w", err)
	}
	doc := &docstore.Document{ID: roster.RosterDocID, Data: written, Revision: rev, UpdatedAt: now}
	empty := roster.Counters{DepartureRooms: []string{}, InhouseRooms: []string{}, Reports: []roster.ReportEntry{}}
	if err := s.adoptCommit(ctx, id, doc, nil, empty); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "roster reset", zap.String("reset_id", marker.ID))
	s.record(ctx, id, journal.Entry{Action: journal.ActionReset, Detail: marker.ID})
	return marker.ID, nil
}

// ExpireReports drops reports older than the retention and returns the rooms
// they still hold in a report-driven status to vacant.
func (s *Session) ExpireReports(ctx context.Context) (ExpiryResult, error) {
	if !s.started.Load() {
		return ExpiryResult{}, ErrNotStarted
	}
	id, err := s.requireFrontDesk("expiring reports")
	if err != nil {
		return ExpiryResult{}, err
	}
	ctx = actorContext(s.withDevice(ctx), id)

	now := s.now()
	counters := s.Counters()
	if ingest.Expire(s.Roster(), counters, s.cfg.ReportRetention, now).Expired == 0 {
		return ExpiryResult{Reverted: []string{}}, nil
	}

	ctx, span := s.tracer.Start(ctx, "device.expire_reports")
	defer span.End()

	var (
		out     ingest.Expiry
		written []byte
	)
	rev, err := s.store.Update(ctx, roster.RosterDocID, func(current []byte) ([]byte, error) {
		cur, marker, err := s.storedRoster(current, now)
		if err != nil {
			return nil, err
		}
		out = ingest.Expire(cur, counters, s.cfg.ReportRetention, now)
		doc := out.Next.Document()
		doc.Reset = marker
		written, err = doc.Encode()
		return written, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExpiryResult{}, fmt.Errorf("expiring reports: %w", err)
	}
	doc := &docstore.Document{ID: roster.RosterDocID, Data: written, Revision: rev, UpdatedAt: now}
	if err := s.adoptCommit(ctx, id, doc, out.Reverted, out.Counters); err != nil {
		return ExpiryResult{}, err
	}

	span.SetAttributes(attribute.Int("expired", out.Expired), attribute.Int("reverted", len(out.Reverted)))
	s.logger.Info(ctx, "expired reports", zap.Int("expired", out.Expired), zap.Strings("reverted", out.Reverted))
	s.record(ctx, id, journal.Entry{
		Action: journal.ActionExpire,
		Detail: fmt.Sprintf("%d reports, %d rooms reverted", out.Expired, len(out.Reverted)),
	})
	return ExpiryResult{Expired: out.Expired, Reverted: out.Reverted}, nil
}

// runExpiry periodically expires reports while the front desk is logged in.
func (s *Session) runExpiry(ctx context.Context) {
	defer s.wg.Done()
	tick := time.NewTicker(s.cfg.ExpiryInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-tick.C:
			if !s.Identity().Privileged() {
				continue
			}
			if _, err := s.ExpireReports(ctx); err != nil {
				s.logger.Warn(ctx, "report expiry failed", zap.Error(err))
			}
		}
	}
}

// storedRoster decodes the roster held by the store on top of the seeded
// layout, so rooms the document lacks start from their default state.
func (s *Session) storedRoster(current []byte, now time.Time) (*roster.Roster, *roster.ResetMarker, error) {
	r := s.def.Seed(now)
	if current == nil {
		return r, nil, nil
	}
	doc, err := roster.DecodeDocument(current)
	if err != nil {
		return nil, nil, err
	}
	r.Apply(doc)
	return r, doc.Reset, nil
}

// adoptCommit applies a roster this device has just committed, then applies
// c and queues its write. Editors open on rooms the commit changed are
// closed, so the device shows what it wrote. The counters stay leased until
// the store acknowledges them, and the writer retries them like any other
// change.
func (s *Session) adoptCommit(ctx context.Context, id roster.Identity, doc *docstore.Document, rooms []string, c roster.Counters) error {
	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("encoding counters: %w", err)
	}
	return s.do(ctx, func(ctx context.Context) error {
		for _, number := range rooms {
			if edit := s.editing[number]; edit != nil {
				s.leases.Release(edit)
				delete(s.editing, number)
			}
		}
		s.handleRemote(ctx, doc)

		l := s.leases.Acquire(reconcile.EntityCounters, "*")
		op := &writeOp{
			doc:    roster.CountersDocID,
			mutate: docstore.WriteFunc(data, false),
			lease:  l,
			actor:  id,
		}
		if err := s.enqueue(op); err != nil {
			s.leases.Release(l)
			return fmt.Errorf("queueing counters: %w", err)
		}
		s.mu.Lock()
		s.counters = c.Clone()
		s.mu.Unlock()
		s.emit(Event{Type: EventCounters, Doc: roster.CountersDocID})
		return nil
	})
}

func (s *Session) record(ctx context.Context, id roster.Identity, e journal.Entry) {
	if s.journal == nil {
		return
	}
	s.stampEntry(&e, id)
	if err := s.journal.Append(ctx, e); err != nil {
		s.logger.Warn(ctx, "journal append failed", zap.Error(err))
	}
}
