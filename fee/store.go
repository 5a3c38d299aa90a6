package fee

import (
	"context"
	"errors"

	"github.com/xraph/bursar/store"
)

// Store reads and writes fee configuration through a Record Store.
type Store struct {
	docs     store.Store
	currency string
}

// NewStore creates a fee store. Amounts are read in currency.
func NewStore(docs store.Store, currency string) *Store {
	return &Store{docs: docs, currency: currency}
}

// Definitions returns the active definitions of one kind, optionally
// restricted to one school. Definitions without a schoolId apply to every
// school.
func (s *Store) Definitions(ctx context.Context, schoolID string, kind Kind) ([]*Definition, error) {
	docs, err := s.docs.Query(ctx, store.CollectionFees, store.Query{}.Eq("feeKind", string(kind)))
	if err != nil {
		return nil, err
	}
	// A definition written with the field-name form of its kind must
	// match too.
	if field := kind.FieldName(); field != string(kind) {
		more, err := s.docs.Query(ctx, store.CollectionFees, store.Query{}.Eq("feeKind", field))
		if err != nil {
			return nil, err
		}
		docs = append(docs, more...)
	}

	out := make([]*Definition, 0, len(docs))
	for _, doc := range docs {
		def := DefinitionFromDocument(doc, s.currency)
		if !def.IsActive {
			continue
		}
		if schoolID != "" && def.SchoolID != "" && def.SchoolID != schoolID {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// Get returns one definition.
func (s *Store) Get(ctx context.Context, defID string) (*Definition, error) {
	doc, err := s.docs.Get(ctx, store.CollectionFees, defID)
	if err != nil {
		return nil, err
	}
	return DefinitionFromDocument(doc, s.currency), nil
}

// Put writes a definition under its id.
func (s *Store) Put(ctx context.Context, def *Definition) error {
	_, err := s.docs.Put(ctx, store.CollectionFees, def.ID, def.ToDocument())
	return err
}

// SetActive flips the isActive flag.
func (s *Store) SetActive(ctx context.Context, defID string, active bool, patch store.Document) error {
	p := store.Document{"isActive": active}
	for k, v := range patch {
		p[k] = v
	}
	return s.docs.Update(ctx, store.CollectionFees, defID, p)
}

// ExamFeeDocument returns the raw examFees document of a school, or nil
// when the school has none.
func (s *Store) ExamFeeDocument(ctx context.Context, schoolID string) (store.Document, error) {
	doc, err := s.docs.Get(ctx, store.CollectionExamFees, schoolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// Tables returns the management and legacy tables of a school. A school
// without an examFees document has empty tables.
func (s *Store) Tables(ctx context.Context, schoolID string) (management, legacy Table, err error) {
	doc, err := s.ExamFeeDocument(ctx, schoolID)
	if err != nil {
		return nil, nil, err
	}
	management, legacy = TablesFromDocument(doc, s.currency)
	return management, legacy, nil
}

// PatchExamFees merges patch into the school's examFees document, creating
// it when missing.
func (s *Store) PatchExamFees(ctx context.Context, schoolID string, current, patch store.Document) error {
	if current == nil {
		doc := store.Merge(store.Document{"schoolId": schoolID}, patch)
		_, err := s.docs.Put(ctx, store.CollectionExamFees, schoolID, doc)
		return err
	}
	return s.docs.Update(ctx, store.CollectionExamFees, schoolID, patch)
}
