// Package docstore provides the remote synchronized document store that every
// device reads, writes and subscribes to.
//
// A document is an opaque JSON object addressed by id. Writes are either full
// replacements or RFC 7386 merge patches, and every change is delivered to all
// subscribers of the document (including the writer) as the full new
// document. Delivery is at-least-once; subscribers must treat a redelivered
// document as a no-op.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Read for a document that does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when an optimistic update lost too many races.
	ErrConflict = errors.New("document update conflict")
	// ErrInvalidDocument marks a payload that is not a JSON object.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
	// ErrUnavailable wraps transport failures that are worth retrying.
	ErrUnavailable = errors.New("store unavailable")
)

// maxUpdateAttempts bounds the compare-and-swap loop of Update.
const maxUpdateAttempts = 16

// Document is one stored document as of a revision.
type Document struct {
	ID       string
	Data     []byte
	Revision uint64
	// UpdatedAt is the store's timestamp of the revision.
	UpdatedAt time.Time
}

// MutateFunc computes the next content of a document from its current
// content, which is nil when the document does not exist. It may be called
// more than once when concurrent writers race, so it must be free of side
// effects.
type MutateFunc func(current []byte) ([]byte, error)

// Handler receives document snapshots. Calls for one subscription are
// serialized.
type Handler func(*Document)

// Subscription is an active change feed.
type Subscription interface {
	Unsubscribe() error
}

// Store is the remote document store.
type Store interface {
	// Read returns the current document or ErrNotFound.
	Read(ctx context.Context, id string) (*Document, error)
	// Write replaces the document with data, or merges data into it as a
	// merge patch when merge is true.
	Write(ctx context.Context, id string, data []byte, merge bool) (uint64, error)
	// Update atomically replaces the document with fn(current).
	Update(ctx context.Context, id string, fn MutateFunc) (uint64, error)
	// Subscribe delivers the current document, if any, and then every change.
	Subscribe(ctx context.Context, id string, fn Handler) (Subscription, error)
	Close() error
}

// WriteFunc returns the MutateFunc equivalent of a Write call.
func WriteFunc(data []byte, merge bool) MutateFunc {
	return func(current []byte) ([]byte, error) {
		next := data
		if merge {
			var err error
			if next, err = MergePatch(current, data); err != nil {
				return nil, err
			}
		}
		if err := checkObject(next); err != nil {
			return nil, err
		}
		return next, nil
	}
}

func checkObject(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if obj == nil {
		return fmt.Errorf("%w: not an object", ErrInvalidDocument)
	}
	return nil
}
