package transaction

import (
	"context"

	"github.com/xraph/bursar/store"
)

// Store reads and writes ledger entries through a Record Store.
type Store struct {
	docs     store.Store
	currency string
}

// NewStore creates a transaction store. Amounts are read in currency.
func NewStore(docs store.Store, currency string) *Store {
	return &Store{docs: docs, currency: currency}
}

// Get returns one transaction.
func (s *Store) Get(ctx context.Context, txnID string) (*Transaction, error) {
	doc, err := s.docs.Get(ctx, store.CollectionFinancialTransactions, txnID)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, s.currency), nil
}

// Put writes a transaction under its id.
func (s *Store) Put(ctx context.Context, t *Transaction) error {
	_, err := s.docs.Put(ctx, store.CollectionFinancialTransactions, t.ID, t.ToDocument())
	return err
}

// Update applies a patch to one transaction.
func (s *Store) Update(ctx context.Context, txnID string, patch store.Document) error {
	return s.docs.Update(ctx, store.CollectionFinancialTransactions, txnID, patch)
}

// List returns the transactions matching f.
func (s *Store) List(ctx context.Context, f Filter) ([]*Transaction, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFinancialTransactions, f.Query())
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs, s.currency), nil
}

// Vouchers returns every voucher number issued in year.
func (s *Store) Vouchers(ctx context.Context, year string) ([]string, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFinancialTransactions,
		store.Where("voucherNumber", store.OpPrefix, year+"-"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.String("voucherNumber"))
	}
	return out, nil
}

// ByVoucher returns the transactions carrying voucher.
func (s *Store) ByVoucher(ctx context.Context, voucher string) ([]*Transaction, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFinancialTransactions,
		store.Query{}.Eq("voucherNumber", voucher))
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs, s.currency), nil
}
