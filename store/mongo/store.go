// Package mongo implements the Bursar Record Store on MongoDB through the
// grove mongo driver. Each Record Store collection is a Mongo collection
// and a document's id is its _id. Live queries are nudged by change
// streams where the deployment supports them and fall back to polling.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/watch"
)

// colSequences holds the voucher counters.
const colSequences = "bursar_sequences"

// compile-time interface checks
var (
	_ store.Store     = (*Store)(nil)
	_ store.Sequencer = (*Store)(nil)
)

// Store implements store.Store using MongoDB via Grove.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
	hub *watch.Hub

	logger       *slog.Logger
	pollInterval time.Duration
	changeStream bool

	mu       sync.Mutex
	watching map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPollInterval sets how often live queries re-read their result.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// WithoutChangeStreams makes live queries rely on polling alone.
func WithoutChangeStreams() Option {
	return func(s *Store) { s.changeStream = false }
}

// New creates a MongoDB store backed by Grove.
func New(db *grove.DB, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:           db,
		mdb:          mongodriver.Unwrap(db),
		logger:       slog.Default(),
		pollInterval: watch.DefaultInterval,
		changeStream: true,
		watching:     make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = watch.New(watch.WithInterval(s.pollInterval), watch.WithLogger(s.logger))
	return s
}

// Open connects to the MongoDB deployment at uri and wraps it in a Store.
// The database name comes from the URI path.
func Open(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	drv := mongodriver.New()
	if err := drv.Open(ctx, uri); err != nil {
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/mongo: open: %w", err))
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close() //nolint:errcheck // best-effort cleanup
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/mongo: open: %w", err))
	}
	return New(db, opts...), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the lookup indexes of every collection.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("bursar/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return s.fail("ping", "", err)
	}
	return nil
}

// Close stops live queries and change streams and disconnects.
func (s *Store) Close() error {
	s.hub.Close()
	s.cancel()
	s.wg.Wait()
	return s.db.Close()
}

// ==================== Documents ====================

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, docID string) (store.Document, error) {
	var raw bson.M
	err := s.mdb.Collection(collection).FindOne(ctx, bson.M{"_id": docID}).Decode(&raw)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
		}
		return nil, s.fail("get", collection, err)
	}
	return fromBSON(raw), nil
}

// Query implements store.Store. Equality filters on string values are
// sent to the server; the full query is then applied in memory.
func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	filter := bson.M{}
	for _, f := range store.Pushdown(q) {
		if f.Field == "id" {
			filter["_id"] = f.Value
			continue
		}
		filter[f.Field] = f.Value
	}

	cur, err := s.mdb.Collection(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, s.fail("query", collection, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, s.fail("query", collection, err)
	}

	docs := make([]store.Document, len(raws))
	for i, raw := range raws {
		docs[i] = fromBSON(raw)
	}
	return store.Apply(docs, q), nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, collection, docID string, doc store.Document) (string, error) {
	if docID == "" {
		docID = id.NewDocumentID().String()
	}
	body := doc.Encode()
	delete(body, "id")
	body["_id"] = docID

	_, err := s.mdb.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": docID}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return "", s.fail("put", collection, err)
	}
	s.hub.Notify(collection)
	return docID, nil
}

// Update implements store.Store. The patch is applied atomically with
// $set and $unset.
func (s *Store) Update(ctx context.Context, collection, docID string, patch store.Document) error {
	set := bson.M{}
	unset := bson.M{}
	for k, v := range patch.Encode() {
		if k == "id" || k == "_id" {
			continue
		}
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	if len(update) == 0 {
		if _, err := s.Get(ctx, collection, docID); err != nil {
			return err
		}
		return nil
	}

	res, err := s.mdb.Collection(collection).UpdateOne(ctx, bson.M{"_id": docID}, update)
	if err != nil {
		return s.fail("update", collection, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
	}
	s.hub.Notify(collection)
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, collection, docID string) error {
	res, err := s.mdb.Collection(collection).DeleteOne(ctx, bson.M{"_id": docID})
	if err != nil {
		return s.fail("delete", collection, err)
	}
	if res.DeletedCount > 0 {
		s.hub.Notify(collection)
	}
	return nil
}

// NextSequence implements store.Sequencer with a single pipeline upsert,
// so concurrent callers never see the same value.
func (s *Store) NextSequence(ctx context.Context, name string, floor int64) (int64, error) {
	next := bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$value", int64(0)}}}, int64(1)}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "value", Value: bson.D{{Key: "$max", Value: bson.A{next, floor}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out struct {
		Value int64 `bson:"value"`
	}
	col := s.mdb.Collection(colSequences)
	for attempt := 0; ; attempt++ {
		err := col.FindOneAndUpdate(ctx, bson.M{"_id": name}, update, opts).Decode(&out)
		if err == nil {
			return out.Value, nil
		}
		// Two first-time upserts of one counter race on _id; the loser retries
		// against the winner's document.
		if !mongo.IsDuplicateKeyError(err) || attempt >= 2 {
			return 0, s.fail("sequence", name, err)
		}
	}
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, q store.Query, h store.Handler) (store.Unsubscribe, error) {
	if s.changeStream {
		s.watch(collection)
	}
	load := func(ctx context.Context) ([]store.Document, error) {
		return s.Query(ctx, collection, q)
	}
	return s.hub.Subscribe(ctx, collection, load, h)
}

// ==================== Change streams ====================

// watch opens one change stream per collection for the lifetime of the
// store. Deployments without change streams (standalone servers) keep
// polling.
func (s *Store) watch(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching[collection] || s.ctx.Err() != nil {
		return
	}

	cs, err := s.mdb.Collection(collection).Watch(s.ctx, mongo.Pipeline{})
	if err != nil {
		s.logger.Info("mongo change streams unavailable, live queries poll",
			"collection", collection,
			"error", err,
		)
		return
	}
	s.watching[collection] = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = cs.Close(context.Background()) }() //nolint:errcheck // shutdown path
		for cs.Next(s.ctx) {
			s.hub.Notify(collection)
		}
		if err := cs.Err(); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("mongo change stream ended", "collection", collection, "error", err)
		}
		s.mu.Lock()
		delete(s.watching, collection)
		s.mu.Unlock()
	}()
}

// ==================== Helpers ====================

func (s *Store) fail(op, collection string, err error) error {
	return bursar.NewStoreError(op, collection, fmt.Errorf("bursar/mongo: %s: %w", op, err))
}

// fromBSON turns a raw Mongo document into a store.Document, moving _id
// to id.
func fromBSON(raw bson.M) store.Document {
	doc := make(store.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			doc["id"] = fmt.Sprint(v)
			continue
		}
		doc[k] = fromBSONValue(v)
	}
	return doc
}

func fromBSONValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = fromBSONValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = fromBSONValue(t[i])
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	default:
		return v
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the Bursar collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		store.CollectionFees: {
			{Keys: bson.D{{Key: "schoolId", Value: 1}, {Key: "feeKind", Value: 1}}},
		},
		store.CollectionExamFees: {
			{Keys: bson.D{{Key: "schoolId", Value: 1}}},
		},
		store.CollectionFeeCollections: {
			{Keys: bson.D{{Key: "studentId", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "dueDate", Value: 1}}},
		},
		store.CollectionFinancialTransactions: {
			{Keys: bson.D{{Key: "voucherNumber", Value: 1}}},
			{Keys: bson.D{{Key: "schoolId", Value: 1}, {Key: "date", Value: -1}}},
		},
		store.CollectionExamResults: {
			{Keys: bson.D{{Key: "examId", Value: 1}, {Key: "studentId", Value: 1}, {Key: "subject", Value: 1}}},
		},
	}
}
