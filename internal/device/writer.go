package device

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/lease"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/reconcile"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// writeOp is one local change on its way to the store.
type writeOp struct {
	doc    string
	mutate docstore.MutateFunc
	lease  *lease.Lease
	actor  roster.Identity
	entry  *journal.Entry
	// before is the room as it was ahead of a local room change.
	before *roster.Room
}

type writeResult struct {
	op       *writeOp
	revision uint64
	attempts int
	err      error
}

// enqueue hands op to the writer without blocking the loop.
func (s *Session) enqueue(op *writeOp) error {
	select {
	case s.writes <- op:
	default:
		return ErrQueueFull
	}
	s.mu.Lock()
	s.sync.Pending++
	s.mu.Unlock()
	s.metrics.PendingWrites.Inc()
	s.metrics.ActiveLeases.Set(float64(s.leases.Active()))
	return nil
}

func (s *Session) runWriter(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case op := <-s.writes:
			res := s.write(ctx, op)
			if res.err == nil && op.entry != nil && s.journal != nil {
				if err := s.journal.Append(ctx, *op.entry); err != nil {
					s.logger.Warn(ctx, "journal append failed", zap.Error(err))
				}
			}
			if !s.post(event{written: res}) {
				return
			}
		}
	}
}

// write applies op to the store, retrying transient failures with
// exponential backoff. Every attempt waits on the rate limiter, and the
// lease is extended while the change is still unacknowledged.
func (s *Session) write(ctx context.Context, op *writeOp) *writeResult {
	if !op.actor.IsZero() {
		ctx = logging.WithActor(ctx, op.actor.Name, string(op.actor.Role))
	}
	ctx, span := s.tracer.Start(ctx, "device.write",
		trace.WithAttributes(attribute.String("doc", op.doc)))
	defer span.End()

	res := &writeResult{op: op}
	backoff := s.cfg.Writer.InitialBackoff
	for res.attempts < s.cfg.Writer.MaxAttempts {
		res.attempts++
		if res.err = s.limiter.Wait(ctx); res.err != nil {
			break
		}
		res.revision, res.err = s.store.Update(ctx, op.doc, op.mutate)
		if res.err == nil || !retryable(res.err) || res.attempts == s.cfg.Writer.MaxAttempts {
			break
		}

		s.metrics.WriteRetries.Inc()
		s.noteError(res.err)
		s.logger.Warn(ctx, "store write failed, retrying",
			zap.String("doc", op.doc),
			zap.Int("attempt", res.attempts),
			zap.Duration("backoff", backoff),
			zap.Error(res.err))
		s.leases.Extend(op.lease, backoff+s.cfg.Grace)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.err = ctx.Err()
			span.SetAttributes(attribute.Int("attempts", res.attempts))
			span.SetStatus(codes.Error, res.err.Error())
			return res
		}
		backoff = min(backoff*2, s.cfg.Writer.MaxBackoff)
	}

	span.SetAttributes(attribute.Int("attempts", res.attempts))
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res
}

// retryable reports whether err is a transport failure or lost race rather
// than a rejected change.
func retryable(err error) bool {
	return errors.Is(err, docstore.ErrUnavailable) || errors.Is(err, docstore.ErrConflict)
}

func (s *Session) noteError(err error) {
	s.mu.Lock()
	s.sync.LastError = err.Error()
	s.sync.LastErrorAt = s.now()
	s.mu.Unlock()
	s.emit(Event{Type: EventSync, Detail: err.Error()})
}

// handleWritten runs on the loop once the writer is done with a change. The
// lease is released, and the last snapshot is reconciled again if it already
// reflects the write, or if the write was abandoned.
func (s *Session) handleWritten(ctx context.Context, res *writeResult) {
	op := res.op
	s.leases.Release(op.lease)

	s.mu.Lock()
	s.sync.Pending--
	if res.err != nil {
		s.sync.Failed++
		s.sync.LastError = res.err.Error()
		s.sync.LastErrorAt = s.now()
	} else {
		s.sync.LastSyncedAt = s.now()
	}
	s.mu.Unlock()

	s.metrics.PendingWrites.Dec()
	s.metrics.ActiveLeases.Set(float64(s.leases.Active()))
	class := docClass(op.doc)

	if res.err != nil {
		s.metrics.WritesTotal.WithLabelValues(class, "failed").Inc()
		s.logger.Error(ctx, "store write abandoned, local change reverted",
			zap.String("doc", op.doc),
			zap.Int("attempts", res.attempts),
			zap.Error(res.err))
		s.emit(Event{Type: EventSync, Doc: op.doc, Detail: res.err.Error()})
		if op.before != nil {
			s.revertRoom(ctx, op)
		}
		s.readopt(ctx, op.doc)
		return
	}

	s.metrics.WritesTotal.WithLabelValues(class, "ok").Inc()
	s.logger.Debug(ctx, "store write acknowledged",
		zap.String("doc", op.doc),
		zap.Uint64("revision", res.revision),
		zap.Int("attempts", res.attempts))
	s.emit(Event{Type: EventSync, Doc: op.doc})
	if last := s.lastRemote[op.doc]; last != nil && last.Data != nil && last.Revision >= res.revision {
		s.reconcile(ctx, last)
	}
}

// revertRoom puts an abandoned room change back to the last stored record
// of the room, or to the record ahead of the change when no snapshot has
// arrived.
func (s *Session) revertRoom(ctx context.Context, op *writeOp) {
	number := op.before.Number
	var stored *roster.Document
	if last := s.lastRemote[op.doc]; last != nil && last.Data != nil {
		if doc, err := roster.DecodeDocument(last.Data); err == nil {
			stored = doc
		}
	}
	if stored == nil {
		stored = &roster.Document{Rooms: map[string]roster.Room{number: *op.before}}
	}

	res := reconcile.Revert(s.roster, stored, number, s.leases)
	if len(res.Changed) == 0 {
		return
	}
	s.mu.Lock()
	s.roster = res.Next
	s.mu.Unlock()
	s.logger.Debug(ctx, "reverted abandoned room change", zap.String("room", number))
	s.emit(Event{Type: EventRooms, Doc: op.doc, Rooms: res.Changed})
}
