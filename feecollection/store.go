package feecollection

import (
	"context"
	"time"

	"github.com/xraph/bursar/store"
)

// Store reads and writes fee collections through a Record Store.
type Store struct {
	docs     store.Store
	currency string
}

// NewStore creates a fee collection store. Amounts are read in currency.
func NewStore(docs store.Store, currency string) *Store {
	return &Store{docs: docs, currency: currency}
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, recordID string) (*Record, error) {
	doc, err := s.docs.Get(ctx, store.CollectionFeeCollections, recordID)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, s.currency), nil
}

// Put writes a full record under its id.
func (s *Store) Put(ctx context.Context, r *Record) error {
	_, err := s.docs.Put(ctx, store.CollectionFeeCollections, r.ID, r.ToDocument())
	return err
}

// Update applies a patch to one record.
func (s *Store) Update(ctx context.Context, recordID string, patch store.Document) error {
	return s.docs.Update(ctx, store.CollectionFeeCollections, recordID, patch)
}

// List returns the records matching f.
func (s *Store) List(ctx context.Context, f Filter) ([]*Record, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFeeCollections, f.Query())
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs, s.currency), nil
}

// Due returns the pending records whose due date is before now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]*Record, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFeeCollections, store.Query{}.
		Eq("status", string(StatusPending)).
		Where("dueDate", store.OpLt, now))
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, r := range FromDocuments(docs, s.currency) {
		if r.IsDue(now) {
			out = append(out, r)
		}
	}
	return out, nil
}
