package result

import (
	"context"

	"github.com/xraph/bursar/store"
)

// Store reads and writes exam results through a Record Store. It does
// not deduplicate; that is the caller's job.
type Store struct {
	docs store.Store
}

// NewStore creates a result store.
func NewStore(docs store.Store) *Store {
	return &Store{docs: docs}
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, recordID string) (*Record, error) {
	doc, err := s.docs.Get(ctx, store.CollectionExamResults, recordID)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc), nil
}

// ByKey returns every record stored under key. More than one means an
// identity conflict.
func (s *Store) ByKey(ctx context.Context, key Key) ([]*Record, error) {
	docs, err := s.docs.Query(ctx, store.CollectionExamResults, key.Query())
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs), nil
}

// ByExam returns every record of one exam.
func (s *Store) ByExam(ctx context.Context, examID string) ([]*Record, error) {
	docs, err := s.docs.Query(ctx, store.CollectionExamResults,
		store.Query{}.Eq("examId", examID).Order("subject", false).Order("studentId", false))
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs), nil
}

// Put writes a full record under its id.
func (s *Store) Put(ctx context.Context, r *Record) error {
	_, err := s.docs.Put(ctx, store.CollectionExamResults, r.ID, r.ToDocument())
	return err
}

// Overwrite replaces the scored fields of an existing record.
func (s *Store) Overwrite(ctx context.Context, r *Record) error {
	return s.docs.Update(ctx, store.CollectionExamResults, r.ID, r.ScorePatch())
}

// SetPosition stores a rank position, or removes it when p is nil.
func (s *Store) SetPosition(ctx context.Context, recordID string, p *int) error {
	var v any
	if p != nil {
		v = *p
	}
	return s.docs.Update(ctx, store.CollectionExamResults, recordID, store.Document{"position": v})
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	return s.docs.Delete(ctx, store.CollectionExamResults, recordID)
}
