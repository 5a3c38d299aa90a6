package fee_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

func taka(n int64) types.Money { return types.BDT(n * 100) }

func TestResolvePrecedence(t *testing.T) {
	const class = "প্রথম"

	tests := []struct {
		name string
		src  fee.Sources
		want types.Money
		tier fee.Tier
	}{
		{
			name: "management wins over everything",
			src: fee.Sources{
				Management: fee.Table{fee.KindMonthlyExam: {class: taka(250)}},
				Legacy:     fee.Table{fee.KindMonthlyExam: {class: taka(200)}},
				ClassWise:  map[string]types.Money{class: taka(150)},
			},
			want: taka(250),
			tier: fee.TierManagement,
		},
		{
			name: "legacy when management has no entry",
			src: fee.Sources{
				Management: fee.Table{},
				Legacy:     fee.Table{fee.KindMonthlyExam: {class: taka(200)}},
				ClassWise:  map[string]types.Money{class: taka(150)},
			},
			want: taka(200),
			tier: fee.TierLegacy,
		},
		{
			name: "zero legacy falls through to base fee",
			src: fee.Sources{
				Legacy:    fee.Table{fee.KindMonthlyExam: {class: taka(0)}},
				ClassWise: map[string]types.Money{class: taka(150)},
			},
			want: taka(150),
			tier: fee.TierClassWise,
		},
		{
			name: "zero management falls through to legacy",
			src: fee.Sources{
				Management: fee.Table{fee.KindMonthlyExam: {class: taka(0)}},
				Legacy:     fee.Table{fee.KindMonthlyExam: {class: taka(200)}},
			},
			want: taka(200),
			tier: fee.TierLegacy,
		},
		{
			name: "other kinds do not leak",
			src: fee.Sources{
				Management: fee.Table{fee.KindAnnualExam: {class: taka(900)}},
				ClassWise:  map[string]types.Money{class: taka(150)},
			},
			want: taka(150),
			tier: fee.TierClassWise,
		},
		{
			name: "all-classes base fee",
			src: fee.Sources{
				ClassWise: map[string]types.Money{fee.AllClasses: taka(120)},
			},
			want: taka(120),
			tier: fee.TierAllClasses,
		},
		{
			name: "nothing configured resolves to the default",
			src:  fee.Sources{},
			want: taka(50),
			tier: fee.TierDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fee.Explain(fee.KindMonthlyExam, class, tt.src, taka(50))
			assert.Equal(t, tt.want, res.Amount)
			assert.Equal(t, tt.tier, res.Tier)

			// Referentially transparent: same inputs, same output.
			assert.Equal(t, res.Amount, fee.Resolve(fee.KindMonthlyExam, class, tt.src, taka(50)))
		})
	}
}

func TestResolveScenario(t *testing.T) {
	src := fee.Sources{
		Management: fee.Table{},
		Legacy:     fee.Table{fee.KindMonthlyExam: {"প্রথম": taka(200)}},
		ClassWise:  map[string]types.Money{"প্রথম": taka(150)},
	}
	assert.Equal(t, taka(200), fee.Resolve(fee.ParseKind("monthly"), "প্রথম", src, types.Zero("bdt")))

	src.Legacy.Set(fee.KindMonthlyExam, "প্রথম", taka(0))
	assert.Equal(t, taka(150), fee.Resolve(fee.ParseKind("monthly"), "প্রথম", src, types.Zero("bdt")))
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, fee.KindMonthlyExam, fee.ParseKind("monthly"))
	assert.Equal(t, fee.KindMonthlyExam, fee.ParseKind("Monthly Examination Fee"))
	assert.Equal(t, fee.KindAnnualExam, fee.ParseKind(" annual examination fee "))
	assert.Equal(t, fee.Kind("Sports Fee"), fee.ParseKind("Sports Fee"))
	assert.Equal(t, "Monthly Examination Fee", fee.KindMonthlyExam.FieldName())
	assert.Equal(t, "Sports Fee", fee.Kind("Sports Fee").FieldName())
	assert.True(t, fee.KindTuition.Known())
	assert.False(t, fee.Kind("Sports Fee").Known())
}

func TestTablesFromDocument(t *testing.T) {
	doc := store.Document{
		"id":                      "school-1",
		"Monthly Examination Fee": map[string]any{"প্রথম": 200.0, "দ্বিতীয়": "220", "তৃতীয়": "n/a"},
		"management": map[string]any{
			"Monthly Examination Fee": map[string]any{"প্রথম": 250},
		},
	}

	mgmt, legacy := fee.TablesFromDocument(doc, "bdt")

	amount, ok := mgmt.Lookup(fee.KindMonthlyExam, "প্রথম")
	assert.True(t, ok)
	assert.Equal(t, taka(250), amount)

	amount, ok = legacy.Lookup(fee.KindMonthlyExam, "দ্বিতীয়")
	assert.True(t, ok)
	assert.Equal(t, taka(220), amount)

	_, ok = legacy.Lookup(fee.KindMonthlyExam, "তৃতীয়")
	assert.False(t, ok, "non-numeric cells are skipped")

	_, ok = legacy.Lookup(fee.Kind("management"), "প্রথম")
	assert.False(t, ok, "the management field is not a legacy row")
}

func TestTablesFromDocumentPrefersFieldNames(t *testing.T) {
	doc := store.Document{
		"monthly":                 map[string]any{"one": 100.0, " two ": 70.0},
		"Monthly Examination Fee": map[string]any{"one": 200.0, "two": 80.0},
	}

	// Map order varies between runs; the result must not.
	for range 20 {
		_, legacy := fee.TablesFromDocument(doc, "bdt")
		amount, ok := legacy.Lookup(fee.KindMonthlyExam, "one")
		require.True(t, ok)
		assert.Equal(t, taka(200), amount)

		amount, ok = legacy.Lookup(fee.KindMonthlyExam, "two")
		require.True(t, ok)
		assert.Equal(t, taka(80), amount)
	}

	_, legacy := fee.TablesFromDocument(store.Document{
		"Monthly Examination Fee": map[string]any{" Class 5 ": 150.0},
	}, "bdt")
	res := fee.Explain(fee.KindMonthlyExam, "Class 5 ", fee.Sources{Legacy: legacy}, types.Zero("bdt"))
	assert.Equal(t, fee.TierLegacy, res.Tier, "class names are matched without surrounding blanks")
	assert.Equal(t, taka(150), res.Amount)
	assert.Equal(t, "Class 5", res.ClassName)
}

func TestBaseFees(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	defs := []*fee.Definition{
		{ID: "a", Kind: fee.KindTuition, Amount: taka(100), ApplicableClasses: []string{"one"}, IsActive: true, Entity: types.Entity{UpdatedAt: older}},
		{ID: "b", Kind: fee.KindTuition, Amount: taka(110), ApplicableClasses: []string{"one"}, IsActive: true, Entity: types.Entity{UpdatedAt: newer}},
		{ID: "c", Kind: fee.KindTuition, Amount: taka(90), IsActive: true},
		{ID: "d", Kind: fee.KindTuition, Amount: taka(999), ApplicableClasses: []string{"two"}, IsActive: false},
		{ID: "e", Kind: fee.KindAdmission, Amount: taka(500), ApplicableClasses: []string{"two"}, IsActive: true},
	}

	base := fee.BaseFees(defs, fee.KindTuition)
	assert.Equal(t, taka(110), base["one"], "most recently updated definition wins")
	assert.Equal(t, taka(90), base[fee.AllClasses])
	_, hasTwo := base["two"]
	assert.False(t, hasTwo, "inactive and other-kind definitions are ignored")

	// Class two has no specific fee, so it resolves to the all-classes fee.
	assert.Equal(t, taka(90), fee.Resolve(fee.KindTuition, "two", fee.Sources{ClassWise: base}, types.Zero("bdt")))
}

func TestCellPatch(t *testing.T) {
	current := store.Document{
		"Monthly Examination Fee": map[string]any{"one": 100.0},
		"management":              map[string]any{"Annual Examination Fee": map[string]any{"one": 300.0}},
	}

	legacy := fee.CellPatch(fee.GenerationLegacy, current, fee.KindMonthlyExam, "two", taka(120))
	assert.Equal(t, map[string]any{"one": 100.0, "two": 120.0}, legacy["Monthly Examination Fee"])

	mgmt := fee.CellPatch(fee.GenerationManagement, current, fee.KindMonthlyExam, "one", taka(260))
	merged := store.Merge(current, mgmt)
	m, l := fee.TablesFromDocument(merged, "bdt")

	amount, _ := m.Lookup(fee.KindMonthlyExam, "one")
	assert.Equal(t, taka(260), amount)
	amount, _ = m.Lookup(fee.KindAnnualExam, "one")
	assert.Equal(t, taka(300), amount, "sibling management rows survive")
	amount, _ = l.Lookup(fee.KindMonthlyExam, "one")
	assert.Equal(t, taka(100), amount)
}
