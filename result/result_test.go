package result_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/store/memory"
)

func TestGradeFor(t *testing.T) {
	tests := []struct {
		pct   string
		grade string
	}{
		{"100", "A+"},
		{"90", "A+"},
		{"89.99", "A"},
		{"80", "A"},
		{"79.5", "B+"},
		{"70", "B+"},
		{"60", "B"},
		{"59.999", "C+"},
		{"50", "C+"},
		{"40", "C"},
		{"39.99", "D"},
		{"33", "D"},
		{"32.9", "F"},
		{"0", "F"},
	}
	for _, tt := range tests {
		t.Run(tt.pct, func(t *testing.T) {
			assert.Equal(t, tt.grade, result.GradeFor(decimal.RequireFromString(tt.pct)))
		})
	}
}

func TestPercentageNonFinite(t *testing.T) {
	assert.True(t, result.Percentage(math.NaN(), 100).IsZero())
	assert.True(t, result.Percentage(50, math.Inf(1)).IsZero())
	assert.True(t, result.Percentage(math.Inf(-1), 100).IsZero())
	assert.False(t, result.Finite(math.NaN()))
	assert.True(t, result.Finite(12.5))
}

func TestEvaluate(t *testing.T) {
	t.Run("pass at the boundary", func(t *testing.T) {
		s := result.Evaluate(result.Entry{ObtainedMarks: 40, TotalMarks: 100})
		assert.Equal(t, result.StatusPass, s.Status)
		assert.Equal(t, "C", s.Grade)
		assert.Equal(t, 40.0, s.Percentage)
	})

	t.Run("exact percentage is rounded for storage", func(t *testing.T) {
		s := result.Evaluate(result.Entry{ObtainedMarks: 2, TotalMarks: 3})
		assert.Equal(t, 66.67, s.Percentage)
		assert.Equal(t, "B", s.Grade)
	})

	t.Run("grade uses the exact value", func(t *testing.T) {
		// 89.996% rounds to 90.00 but is still an A.
		s := result.Evaluate(result.Entry{ObtainedMarks: 22499, TotalMarks: 25000})
		assert.Equal(t, "A", s.Grade)
	})

	t.Run("absence zeroes the marks", func(t *testing.T) {
		s := result.Evaluate(result.Entry{ObtainedMarks: 95, TotalMarks: 100, IsAbsent: true})
		assert.Equal(t, result.Score{Grade: "F", Status: result.StatusFail}, s)
	})
}

func records(pcts ...float64) []*result.Record {
	out := make([]*result.Record, len(pcts))
	for i, p := range pcts {
		out[i] = &result.Record{
			ID:         string(rune('a' + i)),
			StudentID:  "s" + string(rune('a'+i)),
			Percentage: p,
		}
	}
	return out
}

func positions(rs []*result.Record) []int {
	out := make([]int, 0, len(rs))
	for _, r := range rs {
		if r.Position != nil {
			out = append(out, *r.Position)
		}
	}
	return out
}

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		pcts []float64
		want []int
	}{
		{"ties skip ranks", []float64{90, 90, 80, 70}, []int{1, 1, 3, 4}},
		{"unsorted input", []float64{70, 90, 80, 90}, []int{1, 1, 3, 4}},
		{"all tied", []float64{50, 50, 50}, []int{1, 1, 1}},
		{"tie in the middle", []float64{95, 80, 80, 80, 60}, []int{1, 2, 2, 2, 5}},
		{"single", []float64{10}, []int{1}},
		{"empty", nil, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := result.Rank(records(tt.pcts...))
			assert.Equal(t, tt.want, positions(ranked))
		})
	}
}

func TestRankExcludesAbsent(t *testing.T) {
	rs := records(90, 0, 80)
	stale := 7
	rs[1].IsAbsent = true
	rs[1].Position = &stale

	ranked := result.Rank(rs)
	require.Len(t, ranked, 3)
	assert.Equal(t, []int{1, 2}, positions(ranked))
	assert.Nil(t, rs[1].Position)
	assert.Same(t, rs[1], ranked[2], "absent records come last")
}

func TestStandings(t *testing.T) {
	mk := func(student, subject string, obtained float64, absent bool) *result.Record {
		r := result.NewRecord(student+subject, result.Entry{
			StudentID: student, ExamID: "exam", Subject: subject,
			ObtainedMarks: obtained, TotalMarks: 100, IsAbsent: absent,
		}, time.Time{})
		return r
	}

	rs := []*result.Record{
		mk("alice", "math", 90, false),
		mk("alice", "bangla", 80, false),
		mk("bob", "math", 95, false),
		mk("bob", "bangla", 75, false),
		mk("carol", "math", 100, false),
		mk("carol", "bangla", 0, true),
		mk("dave", "math", 0, true),
		mk("dave", "bangla", 0, true),
	}

	standings := result.Standings(rs)
	require.Len(t, standings, 3, "a student absent everywhere is excluded")

	assert.Equal(t, "alice", standings[0].StudentID)
	assert.Equal(t, 1, standings[0].Position)
	assert.Equal(t, "bob", standings[1].StudentID)
	assert.Equal(t, 1, standings[1].Position, "alice and bob tie on 85%")
	assert.Equal(t, "carol", standings[2].StudentID)
	assert.Equal(t, 3, standings[2].Position)
	assert.Equal(t, 50.0, standings[2].Percentage)
	assert.Equal(t, 1, standings[2].Absent)
	assert.Equal(t, 1, standings[2].Failed)
}

func TestDedup(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	rs := []*result.Record{
		{ID: "r1", StudentID: "s", ExamID: "e", Subject: "math", EnteredAt: t0},
		{ID: "r2", StudentID: "s", ExamID: "e", Subject: "math", EnteredAt: t0.Add(time.Minute)},
		{ID: "r0", StudentID: "s", ExamID: "e", Subject: "math", EnteredAt: t0.Add(time.Minute)},
		{ID: "r3", StudentID: "s", ExamID: "e", Subject: "bangla", EnteredAt: t0},
	}

	kept, conflicts := result.Dedup(rs)
	require.Len(t, kept, 2)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, "r0", c.Kept.ID, "latest entry wins, then the smallest id")
	assert.ElementsMatch(t, []string{"r1", "r2"}, c.DroppedIDs())
	assert.Equal(t, "e/s/math", c.Key.String())
}

func TestStoreOverwriteClearsPosition(t *testing.T) {
	ctx := context.Background()
	s := result.NewStore(memory.New())

	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	r := result.NewRecord("res_1", result.Entry{
		StudentID: "s1", ExamID: "e1", Subject: "math", ObtainedMarks: 55, TotalMarks: 100,
	}, at)
	require.NoError(t, s.Put(ctx, r))

	pos := 2
	require.NoError(t, s.SetPosition(ctx, "res_1", &pos))
	got, err := s.Get(ctx, "res_1")
	require.NoError(t, err)
	require.NotNil(t, got.Position)
	assert.Equal(t, 2, *got.Position)

	r.Apply(result.Entry{ObtainedMarks: 91, TotalMarks: 100}, at.Add(time.Hour))
	require.NoError(t, s.Overwrite(ctx, r))

	got, err = s.Get(ctx, "res_1")
	require.NoError(t, err)
	assert.Nil(t, got.Position)
	assert.Equal(t, "A+", got.Grade)
	assert.Equal(t, "math", got.Subject)

	byKey, err := s.ByKey(ctx, r.Key())
	require.NoError(t, err)
	assert.Len(t, byKey, 1)
}
