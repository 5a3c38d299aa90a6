// Package memory provides an in-process Record Store. It is the default
// store of the engine and the one used by tests; live queries are served
// synchronously from the writing goroutine.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
)

// compile-time interface checks
var (
	_ store.Store     = (*Store)(nil)
	_ store.Sequencer = (*Store)(nil)
)

type subscription struct {
	collection string
	query      store.Query
	handler    store.Handler

	// mu serialises deliveries with Unsubscribe. The handler must not
	// unsubscribe from inside a delivery.
	mu       sync.Mutex
	closed   bool
	revision uint64
}

// Store is a map-backed Record Store.
type Store struct {
	mu sync.RWMutex

	collections map[string]map[string]store.Document
	sequences   map[string]int64
	subs        map[uint64]*subscription
	nextSub     uint64
	closed      bool

	// version counts writes; it is the revision of every snapshot taken
	// between two writes.
	version uint64

	// failure, when set, makes every call fail with a StoreError. It lets
	// tests exercise the StoreUnavailable paths.
	failure error
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
		sequences:   make(map[string]int64),
		subs:        make(map[uint64]*subscription),
	}
}

// SetFailure makes every subsequent call fail with err wrapped as a store
// error, or restores normal operation when err is nil. Live queries
// receive the failure as a snapshot error.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()

	if err != nil {
		s.notifyAll(bursar.NewStoreError("subscribe", "", err))
	}
}

func (s *Store) check(op, collection string) error {
	if s.closed {
		return bursar.NewStoreError(op, collection, bursar.ErrStoreClosed)
	}
	if s.failure != nil {
		return bursar.NewStoreError(op, collection, s.failure)
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, collection, docID string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("get", collection); err != nil {
		return nil, err
	}
	doc, ok := s.collections[collection][docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
	}
	return doc.Clone(), nil
}

// Query implements store.Store.
func (s *Store) Query(_ context.Context, collection string, q store.Query) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("query", collection); err != nil {
		return nil, err
	}
	return s.queryLocked(collection, q), nil
}

func (s *Store) queryLocked(collection string, q store.Query) []store.Document {
	col := s.collections[collection]
	docs := make([]store.Document, 0, len(col))
	for _, doc := range col {
		docs = append(docs, doc)
	}
	// Map iteration order is random; sort by id so that unordered queries
	// are still deterministic.
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })

	matched := store.Apply(docs, q)
	out := make([]store.Document, len(matched))
	for i, doc := range matched {
		out[i] = doc.Clone()
	}
	return out
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, collection, docID string, doc store.Document) (string, error) {
	s.mu.Lock()
	if err := s.check("put", collection); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if docID == "" {
		docID = id.NewDocumentID().String()
	}
	stored := doc.Clone()
	if stored == nil {
		stored = store.Document{}
	}
	stored["id"] = docID
	s.collectionLocked(collection)[docID] = stored
	s.version++
	s.mu.Unlock()

	s.notify(collection)
	return docID, nil
}

// Update implements store.Store.
func (s *Store) Update(_ context.Context, collection, docID string, patch store.Document) error {
	s.mu.Lock()
	if err := s.check("update", collection); err != nil {
		s.mu.Unlock()
		return err
	}
	col := s.collectionLocked(collection)
	existing, ok := col[docID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
	}
	merged := store.Merge(existing, patch)
	merged["id"] = docID
	col[docID] = merged
	s.version++
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, collection, docID string) error {
	s.mu.Lock()
	if err := s.check("delete", collection); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.collections[collection][docID]
	delete(s.collections[collection], docID)
	if existed {
		s.version++
	}
	s.mu.Unlock()

	if existed {
		s.notify(collection)
	}
	return nil
}

// NextSequence implements store.Sequencer.
func (s *Store) NextSequence(_ context.Context, name string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("sequence", name); err != nil {
		return 0, err
	}
	next := max(s.sequences[name]+1, floor)
	s.sequences[name] = next
	return next, nil
}

// Subscribe implements store.Store. The current result is delivered
// before Subscribe returns.
func (s *Store) Subscribe(_ context.Context, collection string, q store.Query, h store.Handler) (store.Unsubscribe, error) {
	s.mu.Lock()
	if err := s.check("subscribe", collection); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextSub++
	key := s.nextSub
	sub := &subscription{collection: collection, query: q, handler: h}
	s.subs[key] = sub
	initial := store.Snapshot{Docs: s.queryLocked(collection, q), Revision: s.version}
	s.mu.Unlock()

	sub.deliver(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			s.mu.Unlock()

			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
		})
	}, nil
}

// Migrate implements store.Store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping", "")
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
	return nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *Store) collectionLocked(name string) map[string]store.Document {
	col, ok := s.collections[name]
	if !ok {
		col = make(map[string]store.Document)
		s.collections[name] = col
	}
	return col
}

// notify re-runs every live query on collection and delivers the results.
// Snapshots are taken under the read lock so each one is consistent.
func (s *Store) notify(collection string) {
	s.mu.RLock()
	type pending struct {
		sub  *subscription
		snap store.Snapshot
	}
	var out []pending
	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		out = append(out, pending{
			sub:  sub,
			snap: store.Snapshot{Docs: s.queryLocked(collection, sub.query), Revision: s.version},
		})
	}
	s.mu.RUnlock()

	for _, p := range out {
		p.sub.deliver(p.snap)
	}
}

func (s *Store) notifyAll(err error) {
	s.mu.RLock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.deliverError(err)
	}
}

// deliver hands snap to the handler unless the subscription is closed or
// a newer snapshot was already delivered by a concurrent writer.
func (sub *subscription) deliver(snap store.Snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed || snap.Revision < sub.revision {
		return
	}
	sub.revision = snap.Revision
	sub.handler(snap)
}

func (sub *subscription) deliverError(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}
	sub.handler(store.Snapshot{Revision: sub.revision, Err: err})
}
