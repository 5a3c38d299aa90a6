package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/sqlite"
	"github.com/xraph/bursar/store/storetest"
)

// openStore opens a migrated store on a fresh database file. BURSAR_TEST_SQLITE
// names a directory to keep the files in; by default a temp dir is used.
func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dir := os.Getenv("BURSAR_TEST_SQLITE")
	if dir == "" {
		dir = t.TempDir()
	}
	dsn := "file:" + filepath.Join(dir, "bursar-"+filepath.Base(t.Name())+".db") + "?_pragma=busy_timeout(10000)"

	ctx := context.Background()
	s, err := sqlite.Open(ctx, dsn, sqlite.WithPollInterval(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestPushdownKeepsNumericSemantics(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	defer s.Close()

	_, err := s.Put(ctx, "examResults", "r1", store.Document{"studentId": "007", "marks": 7})
	require.NoError(t, err)

	// "007" is pushed down as text, 7 is matched in memory.
	docs, err := s.Query(ctx, "examResults", store.Query{}.Eq("studentId", "007").Eq("marks", 7))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = s.Query(ctx, "examResults", store.Query{}.Eq("studentId", "7"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}
