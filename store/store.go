// Package store defines the Record Store contract Bursar consumes: a
// document store with named collections, simple predicates, ordering and
// push-based live queries.
//
// Adapters live in sub-packages (memory, sqlite, postgres, mongo). All of
// them honour the reference semantics of Match and Sort in this package, so
// a query returns the same documents regardless of the backend.
package store

import (
	"context"
	"errors"
)

// Errors shared by every adapter. The root bursar package re-exports them.
var (
	ErrNotFound         = errors.New("bursar: not found")
	ErrStoreUnavailable = errors.New("bursar: store unavailable")
)

// Collection names shared with the rest of the school application. The
// names and the field names inside them are load-bearing.
const (
	CollectionFees                  = "fees"
	CollectionFeeCollections        = "feeCollections"
	CollectionFinancialTransactions = "financialTransactions"
	CollectionExamResults           = "examResults"
	CollectionExamFees              = "examFees"
)

// Store is the document store used by the engine.
type Store interface {
	// Get returns the document with the given id. The returned document
	// carries its id under the "id" key. Returns bursar.ErrNotFound when
	// the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns the documents of a collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Put writes a full document. An empty id asks the store to assign
	// one. The id the document was stored under is returned.
	Put(ctx context.Context, collection, id string, doc Document) (string, error)

	// Update shallow-merges patch into an existing document. A nil value
	// in patch removes the field. Returns bursar.ErrNotFound when the
	// document does not exist.
	Update(ctx context.Context, collection, id string, patch Document) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe delivers the full result of q now and again after every
	// change to the collection, until the returned Unsubscribe is called.
	Subscribe(ctx context.Context, collection string, q Query, h Handler) (Unsubscribe, error)

	// Migrate prepares the backend (tables, indexes).
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Sequencer is implemented by stores and coordinators that can hand out
// strictly increasing numbers atomically.
type Sequencer interface {
	// NextSequence atomically sets the named counter to
	// max(current+1, floor) and returns the new value.
	NextSequence(ctx context.Context, name string, floor int64) (int64, error)
}

// Snapshot is one delivery of a live query: the complete current result,
// never a delta.
type Snapshot struct {
	Docs []Document
	// Revision never decreases across the deliveries of one subscription;
	// a higher revision reflects later writes. A consumer that sees a lower
	// revision than one it already handled can drop the snapshot.
	Revision uint64
	// Err is set when the subscription could not produce a result. The
	// subscription stays open and may deliver again.
	Err error
}

// Handler receives live query snapshots. It may be called from writer
// goroutines, must not block for long and must not call the subscription's
// Unsubscribe.
type Handler func(Snapshot)

// Unsubscribe releases a subscription. After it returns the handler is
// not called again. It is safe to call more than once.
type Unsubscribe func()
