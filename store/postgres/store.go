// Package postgres implements the Bursar Record Store on PostgreSQL
// through grove. Documents live as JSONB in one table keyed by
// (collection, id). Live queries are served by the store/watch poller,
// which LISTEN/NOTIFY nudges so that writes from other processes show up
// without waiting for the next poll.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// NotifyChannel is the LISTEN/NOTIFY channel carrying the name of each
// written collection.
const NotifyChannel = "bursar_documents"

// updateAttempts bounds the optimistic retries of Update.
const updateAttempts = 8

// Store implements store.Store using PostgreSQL via Grove.
type Store struct {
	db  *grove.DB
	pg  *pgdriver.PgDB
	hub *watch.Hub

	logger       *slog.Logger
	pollInterval time.Duration
	notify       bool

	listenOnce   sync.Once
	listener     *pgdriver.Listener
	stopListener context.CancelFunc
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

// WithoutNotify disables LISTEN/NOTIFY; live queries then rely on polling
// alone for writes made by other processes.
func WithoutNotify() Option {
	return func(s *Store) { s.notify = false }
}

// New creates a PostgreSQL store backed by Grove.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		pg:           pgdriver.Unwrap(db),
		logger:       slog.Default(),
		pollInterval: watch.DefaultInterval,
		notify:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = watch.New(watch.WithInterval(s.pollInterval), watch.WithLogger(s.logger))
	return s
}

// Open connects to the PostgreSQL database at dsn and wraps it in a Store.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	drv := pgdriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/postgres: open: %w", err))
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close() //nolint:errcheck // best-effort cleanup
		return nil, bursar.NewStoreError("open", "", fmt.Errorf("bursar/postgres: open: %w", err))
	}
	return New(db, opts...), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	orch := migrate.NewOrchestrator(pgmigrate.New(s.pg), Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("bursar/postgres: migration failed: %w", err)
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

// Close stops live queries and the listener and closes the pool.
func (s *Store) Close() error {
	s.hub.Close()
	if s.stopListener != nil {
		s.stopListener()
		_ = s.listener.Close() //nolint:errcheck // releases a pooled conn
	}
	return s.db.Close()
}

// ==================== Documents ====================

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, docID string) (store.Document, error) {
	var body string
	err := s.pg.NewRaw(
		`SELECT body::text FROM bursar_documents WHERE collection = $1 AND id = $2`,
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
	sb.WriteString(`SELECT id, body::text FROM bursar_documents WHERE collection = $1`)
	for _, f := range store.Pushdown(q) {
		args = append(args, f.Value)
		sb.WriteString(` AND body->>'` + f.Field + `' = $` + strconv.Itoa(len(args)))
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := s.pg.Query(ctx, sb.String(), args...)
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
		return "", bursar.NewStoreError("put", collection, fmt.Errorf("bursar/postgres: encode %s: %w", docID, err))
	}

	_, err = s.pg.NewRaw(`
INSERT INTO bursar_documents (collection, id, body, revision, updated_at)
VALUES ($1, $2, $3::jsonb, 1, NOW())
ON CONFLICT (collection, id) DO UPDATE SET
    body = EXCLUDED.body,
    revision = bursar_documents.revision + 1,
    updated_at = EXCLUDED.updated_at`,
		collection, docID, string(body),
	).Exec(ctx)
	if err != nil {
		return "", s.fail("put", collection, err)
	}

	s.changed(ctx, collection)
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
		err := s.pg.NewRaw(
			`SELECT body::text, revision FROM bursar_documents WHERE collection = $1 AND id = $2`,
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
			return bursar.NewStoreError("update", collection, fmt.Errorf("bursar/postgres: encode %s: %w", docID, err))
		}

		res, err := s.pg.NewRaw(`
UPDATE bursar_documents SET body = $1::jsonb, revision = revision + 1, updated_at = NOW()
WHERE collection = $2 AND id = $3 AND revision = $4`,
			string(next), collection, docID, revision,
		).Exec(ctx)
		if err != nil {
			return s.fail("update", collection, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return s.fail("update", collection, err)
		}
		if rows == 1 {
			s.changed(ctx, collection)
			return nil
		}
		s.logger.Debug("postgres update raced, retrying", "collection", collection, "id", docID)
	}
	return s.fail("update", collection, fmt.Errorf("%s kept changing after %d attempts", docID, updateAttempts))
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, collection, docID string) error {
	res, err := s.pg.NewRaw(
		`DELETE FROM bursar_documents WHERE collection = $1 AND id = $2`,
		collection, docID,
	).Exec(ctx)
	if err != nil {
		return s.fail("delete", collection, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		s.changed(ctx, collection)
	}
	return nil
}

// NextSequence implements store.Sequencer.
func (s *Store) NextSequence(ctx context.Context, name string, floor int64) (int64, error) {
	var value int64
	err := s.pg.NewRaw(`
INSERT INTO bursar_sequences (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = GREATEST(bursar_sequences.value + 1, EXCLUDED.value)
RETURNING value`,
		name, max(floor, 1),
	).Scan(ctx, &value)
	if err != nil {
		return 0, s.fail("sequence", name, err)
	}
	return value, nil
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, q store.Query, h store.Handler) (store.Unsubscribe, error) {
	if s.notify {
		s.listenOnce.Do(s.startListener)
	}
	load := func(ctx context.Context) ([]store.Document, error) {
		return s.Query(ctx, collection, q)
	}
	return s.hub.Subscribe(ctx, collection, load, h)
}

// ==================== Notifications ====================

// startListener subscribes to NotifyChannel for the lifetime of the store.
// Without it live queries still converge by polling.
func (s *Store) startListener() {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := s.pg.Listen(ctx, NotifyChannel, func(n *pgdriver.Notification) {
		s.hub.Notify(n.Payload)
	})
	if err != nil {
		cancel()
		s.logger.Warn("postgres listen failed, live queries fall back to polling", "error", err)
		return
	}
	s.listener = l
	s.stopListener = cancel
}

// changed wakes local live queries and tells other processes about the write.
func (s *Store) changed(ctx context.Context, collection string) {
	s.hub.Notify(collection)
	if !s.notify {
		return
	}
	if _, err := s.pg.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, collection); err != nil {
		s.logger.Debug("postgres notify failed", "collection", collection, "error", err)
	}
}

// ==================== Helpers ====================

func (s *Store) fail(op, collection string, err error) error {
	return bursar.NewStoreError(op, collection, fmt.Errorf("bursar/postgres: %s: %w", op, err))
}

func decode(docID, body string) (store.Document, error) {
	doc, err := store.Unmarshal([]byte(body))
	if err != nil {
		return nil, bursar.NewStoreError("decode", "", fmt.Errorf("bursar/postgres: decode %s: %w", docID, err))
	}
	doc["id"] = docID
	return doc, nil
}

// isNoRows checks for the pgx and database/sql no-rows sentinels.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
