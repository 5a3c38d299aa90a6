// Package storetest is a conformance suite for store.Store adapters. Every
// adapter runs it, so the reference semantics of store.Match and
// store.Sort hold on every backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/store"
)

// Factory returns a fresh, migrated and empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite against the stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"Update", testUpdate},
		{"Delete", testDelete},
		{"QueryFilters", testQueryFilters},
		{"QueryOrderLimit", testQueryOrderLimit},
		{"QueryTimes", testQueryTimes},
		{"Sequence", testSequence},
		{"Subscribe", testSubscribe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() }) //nolint:errcheck // test teardown
			tt.fn(t, s)
		})
	}
}

const col = "storetest"

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), col, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	docID, err := s.Put(ctx, col, "", store.Document{
		"name":    "Rahim",
		"amount":  int64(15000),
		"active":  true,
		"classes": []any{"Class 5", "Class 6"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	doc, err := s.Get(ctx, col, docID)
	require.NoError(t, err)
	assert.Equal(t, docID, doc.ID())
	assert.Equal(t, "Rahim", doc.String("name"))
	assert.Equal(t, int64(15000), doc.Int("amount"))
	assert.True(t, doc.Bool("active", false))
	assert.Equal(t, []string{"Class 5", "Class 6"}, doc.Strings("classes"))

	// Put replaces the whole document.
	_, err = s.Put(ctx, col, docID, store.Document{"name": "Karim"})
	require.NoError(t, err)
	doc, err = s.Get(ctx, col, docID)
	require.NoError(t, err)
	assert.Equal(t, "Karim", doc.String("name"))
	assert.False(t, doc.Has("amount"))
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Put(ctx, col, "doc-1", store.Document{"status": "pending", "lateFee": int64(0), "note": "x"})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, col, "doc-1", store.Document{"status": "paid", "note": nil}))
	doc, err := s.Get(ctx, col, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", doc.String("status"))
	assert.Equal(t, int64(0), doc.Int("lateFee"))
	assert.False(t, doc.Has("note"))
	assert.Equal(t, "doc-1", doc.ID())

	err = s.Update(ctx, col, "missing", store.Document{"status": "paid"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, col, "missing"))

	_, err := s.Put(ctx, col, "doc-1", store.Document{"a": "b"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, col, "doc-1"))
	_, err = s.Get(ctx, col, "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	rows := []store.Document{
		{"studentId": "s1", "subject": "Math", "marks": 90, "examId": "term-1"},
		{"studentId": "s2", "subject": "Math", "marks": 70, "examId": "term-1"},
		{"studentId": "s3", "subject": "English", "marks": 80, "examId": "term-1"},
		{"studentId": "s4", "subject": "Math", "marks": 85, "examId": "term-2"},
	}
	for i, r := range rows {
		_, err := s.Put(ctx, col, fmt.Sprintf("r%d", i+1), r)
		require.NoError(t, err)
	}
}

func ids(docs []store.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func testQueryFilters(t *testing.T, s store.Store) {
	seed(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		q    store.Query
		want []string
	}{
		{"eq", store.Query{}.Eq("examId", "term-1").Eq("subject", "Math"), []string{"r1", "r2"}},
		{"ne", store.Where("subject", store.OpNe, "Math"), []string{"r3"}},
		{"in", store.Where("studentId", store.OpIn, []string{"s2", "s4"}), []string{"r2", "r4"}},
		{"gt", store.Where("marks", store.OpGt, 80), []string{"r1", "r4"}},
		{"lte", store.Where("marks", store.OpLte, 80), []string{"r2", "r3"}},
		{"prefix", store.Where("examId", store.OpPrefix, "term-"), []string{"r1", "r2", "r3", "r4"}},
		{"none", store.Query{}.Eq("examId", "term-9"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, col, tt.q)
			require.NoError(t, err)
			got := ids(docs)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func testQueryOrderLimit(t *testing.T, s store.Store) {
	seed(t, s)

	docs, err := s.Query(context.Background(), col, store.Query{}.Order("marks", true).WithLimit(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r4", "r3"}, ids(docs))

	docs, err = s.Query(context.Background(), col, store.Query{}.Order("subject", false).Order("marks", false))
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2", "r4", "r1"}, ids(docs))
}

func testQueryTimes(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err := s.Put(ctx, col, fmt.Sprintf("f%d", i), store.Document{
			"status":  "pending",
			"dueDate": base.AddDate(0, 0, i*10),
		})
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, col, store.Query{}.Eq("status", "pending").Where("dueDate", store.OpLt, base.AddDate(0, 0, 15)))
	require.NoError(t, err)
	assert.Equal(t, []string{"f0", "f1"}, ids(docs))

	doc, err := s.Get(ctx, col, "f2")
	require.NoError(t, err)
	assert.True(t, doc.Time("dueDate").Equal(base.AddDate(0, 0, 20)))
}

func testSequence(t *testing.T, s store.Store) {
	seq, ok := s.(store.Sequencer)
	if !ok {
		t.Skip("store does not implement store.Sequencer")
	}
	ctx := context.Background()

	steps := []struct {
		floor int64
		want  int64
	}{
		{0, 1},
		{0, 2},
		{10, 10},
		{3, 11},
	}
	for _, st := range steps {
		got, err := seq.NextSequence(ctx, "voucher:2025", st.floor)
		require.NoError(t, err)
		assert.Equal(t, st.want, got)
	}

	// Concurrent callers never share a value.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.NextSequence(ctx, "voucher:2026", 0)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 10)
}

type snapshots struct {
	mu   sync.Mutex
	got  []store.Snapshot
	last uint64
	back bool
}

func (s *snapshots) handle(snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Revision < s.last {
		s.back = true
	}
	s.last = snap.Revision
	s.got = append(s.got, snap)
}

func (s *snapshots) latest() (store.Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return store.Snapshot{}, 0
	}
	return s.got[len(s.got)-1], len(s.got)
}

func testSubscribe(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Put(ctx, col, "a", store.Document{"examId": "term-1"})
	require.NoError(t, err)

	rec := &snapshots{}
	unsub, err := s.Subscribe(ctx, col, store.Query{}.Eq("examId", "term-1"), rec.handle)
	require.NoError(t, err)

	first, n := rec.latest()
	require.Equal(t, 1, n, "initial snapshot is delivered before Subscribe returns")
	assert.Equal(t, []string{"a"}, ids(first.Docs))

	_, err = s.Put(ctx, col, "b", store.Document{"examId": "term-1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := rec.latest()
		return len(snap.Docs) == 2
	}, 10*time.Second, 20*time.Millisecond)

	unsub()
	unsub()
	_, before := rec.latest()
	_, err = s.Put(ctx, col, "c", store.Document{"examId": "term-1"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, after := rec.latest()
	assert.Equal(t, before, after, "no delivery after unsubscribe")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.False(t, rec.back, "revisions never go backwards")
}
