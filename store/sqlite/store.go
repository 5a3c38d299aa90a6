// Package sqlite implements the Bursar Record Store on SQLite through
// grove. Documents live as JSON in one table keyed by (collection, id);
// live queries are served by the store/watch poller.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/watch"
)

// compile-time interface checks
var (
	_ store.Store     = (*Store)(nil)
	_ store.Sequencer = (*Store)(nil)
)

// updateAttempts bounds the optimistic retries of Update.
const updateAttempts = 8

// Store implements store.Store using SQLite via Grove.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
	hub *watch.Hub

	logger       *slog.Logger
	pollInterval time.Duration
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

// New creates a SQLite store backed by Grove.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		sdb:          sqlitedriver.Unwrap(db),
		logger:       slog.Default(),
		pollInterval: watch.DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = watch.New(watch.WithInterval(s.pollInterval), watch.WithLogger(s.logger))
	return s
}

// Open connects to the SQLite database at dsn and wraps it in a Store.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	drv := sqlitedriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/sqlite: open: %w", err))
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close() //nolint:errcheck // best-effort cleanup
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/sqlite: open: %w", err))
	}
	return New(db, opts...), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	orch := migrate.NewOrchestrator(sqlitemigrate.New(s.sdb), Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("bursar/sqlite: migration failed: %w", err)
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

// Close stops live queries and closes the database connection.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// ==================== Documents ====================

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, docID string) (store.Document, error) {
	var body string
	err := s.sdb.NewRaw(
		`SELECT body FROM bursar_documents WHERE collection = ? AND id = ?`,
		collection, docID,
	).Scan(ctx, &body)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
		}
		return nil, s.fail("get", collection, err)
	}
	return decode(docID, body)
}

// Query implements store.Store. Equality filters on string values narrow
// the scan in SQL; the full query is then applied in memory.
func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	var (
		sb   strings.Builder
		args = []any{collection}
	)
	sb.WriteString(`SELECT id, body FROM bursar_documents WHERE collection = ?`)
	for _, f := range store.Pushdown(q) {
		sb.WriteString(` AND CAST(json_extract(body, '$.` + f.Field + `') AS TEXT) = ?`)
		args = append(args, f.Value)
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := s.sdb.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, s.fail("query", collection, err)
	}
	defer func() { _ = rows.Close() }() //nolint:errcheck // read-only cursor

	var docs []store.Document
	for rows.Next() {
		var docID, body string
		if err := rows.Scan(&docID, &body); err != nil {
			return nil, s.fail("query", collection, err)
		}
		doc, err := decode(docID, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query", collection, err)
	}
	return store.Apply(docs, q), nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, collection, docID string, doc store.Document) (string, error) {
	if docID == "" {
		docID = id.NewDocumentID().String()
	}
	stored := doc.Clone()
	if stored == nil {
		stored = store.Document{}
	}
	stored["id"] = docID
	body, err := stored.Marshal()
	if err != nil {
		return "", bursar.NewStoreError("put", collection, fmt.Errorf("bursar/sqlite: encode %s: %w", docID, err))
	}

	_, err = s.sdb.NewRaw(`
INSERT INTO bursar_documents (collection, id, body, revision, updated_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (collection, id) DO UPDATE SET
    body = excluded.body,
    revision = bursar_documents.revision + 1,
    updated_at = excluded.updated_at`,
		collection, docID, string(body), now(),
	).Exec(ctx)
	if err != nil {
		return "", s.fail("put", collection, err)
	}

	s.hub.Notify(collection)
	return docID, nil
}

// Update implements store.Store. Concurrent updates of one document are
// resolved with a revision check and retried.
func (s *Store) Update(ctx context.Context, collection, docID string, patch store.Document) error {
	for range updateAttempts {
		var (
			body     string
			revision int64
		)
		err := s.sdb.NewRaw(
			`SELECT body, revision FROM bursar_documents WHERE collection = ? AND id = ?`,
			collection, docID,
		).Scan(ctx, &body, &revision)
		if err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: %s/%s", bursar.ErrNotFound, collection, docID)
			}
			return s.fail("update", collection, err)
		}

		existing, err := decode(docID, body)
		if err != nil {
			return err
		}
		merged := store.Merge(existing, patch)
		merged["id"] = docID
		next, err := merged.Marshal()
		if err != nil {
			return bursar.NewStoreError("update", collection, fmt.Errorf("bursar/sqlite: encode %s: %w", docID, err))
		}

		res, err := s.sdb.NewRaw(`
UPDATE bursar_documents SET body = ?, revision = revision + 1, updated_at = ?
WHERE collection = ? AND id = ? AND revision = ?`,
			string(next), now(), collection, docID, revision,
		).Exec(ctx)
		if err != nil {
			return s.fail("update", collection, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return s.fail("update", collection, err)
		}
		if rows == 1 {
			s.hub.Notify(collection)
			return nil
		}
		s.logger.Debug("sqlite update raced, retrying", "collection", collection, "id", docID)
	}
	return s.fail("update", collection, fmt.Errorf("%s kept changing after %d attempts", docID, updateAttempts))
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, collection, docID string) error {
	res, err := s.sdb.NewRaw(
		`DELETE FROM bursar_documents WHERE collection = ? AND id = ?`,
		collection, docID,
	).Exec(ctx)
	if err != nil {
		return s.fail("delete", collection, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		s.hub.Notify(collection)
	}
	return nil
}

// NextSequence implements store.Sequencer.
func (s *Store) NextSequence(ctx context.Context, name string, floor int64) (int64, error) {
	var value int64
	err := s.sdb.NewRaw(`
INSERT INTO bursar_sequences (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = MAX(bursar_sequences.value + 1, excluded.value)
RETURNING value`,
		name, max(floor, 1),
	).Scan(ctx, &value)
	if err != nil {
		return 0, s.fail("sequence", name, err)
	}
	return value, nil
}

// Subscribe implements store.Store. Writes through this store are seen
// at once; writes by other processes within the poll interval.
func (s *Store) Subscribe(ctx context.Context, collection string, q store.Query, h store.Handler) (store.Unsubscribe, error) {
	load := func(ctx context.Context) ([]store.Document, error) {
		return s.Query(ctx, collection, q)
	}
	return s.hub.Subscribe(ctx, collection, load, h)
}

// ==================== Helpers ====================

func (s *Store) fail(op, collection string, err error) error {
	return bursar.NewStoreError(op, collection, fmt.Errorf("bursar/sqlite: %s: %w", op, err))
}

func decode(docID, body string) (store.Document, error) {
	doc, err := store.Unmarshal([]byte(body))
	if err != nil {
		return nil, bursar.NewStoreError("decode", "", fmt.Errorf("bursar/sqlite: decode %s: %w", docID, err))
	}
	doc["id"] = docID
	return doc, nil
}

// now returns the current UTC time in the fixed-width text layout.
func now() string {
	return time.Now().UTC().Format(store.TimeLayout)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
