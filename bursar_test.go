package bursar_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/sheet"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/summary"
	"github.com/xraph/bursar/transaction"
)

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...bursar.Option) (*bursar.Bursar, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]bursar.Option{bursar.WithClock(func() time.Time { return fixedNow })}, opts...)
	return bursar.New(s, opts...), s
}

// recorder captures plugin hook calls.
type recorder struct {
	mu        sync.Mutex
	conflicts []result.Conflict
	races     []string
	fallbacks []string
	paid      []string
	overdue   []string
	imported  [][3]int
	projErrs  []error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnIdentityConflict(_ context.Context, c result.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, c)
	return nil
}

func (r *recorder) OnSequencingRace(_ context.Context, voucher, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.races = append(r.races, voucher)
	return nil
}

func (r *recorder) OnVoucherFallback(_ context.Context, _, token string, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, token)
	return nil
}

func (r *recorder) OnFeePaid(_ context.Context, rec *feecollection.Record, _ *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, rec.ID)
	return nil
}

func (r *recorder) OnFeesOverdue(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overdue = append(r.overdue, ids...)
	return nil
}

func (r *recorder) OnResultsImported(_ context.Context, total, succeeded, failed int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imported = append(r.imported, [3]int{total, succeeded, failed})
	return nil
}

func (r *recorder) OnProjectionError(_ context.Context, _ string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projErrs = append(r.projErrs, err)
	return nil
}

// ──────────────────────────────────────────────────
// Fees
// ──────────────────────────────────────────────────

func TestResolveFee(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t, bursar.WithDefaultFee(bursar.BDT(5000)))

	const class = "প্রথম"
	require.NoError(t, b.SetExamFee(ctx, "school-1", fee.GenerationLegacy, fee.KindMonthlyExam, class, bursar.BDT(20000)))
	require.NoError(t, b.SaveFeeDefinition(ctx, &fee.Definition{
		Name:              "Monthly exam",
		Kind:              fee.KindMonthlyExam,
		Amount:            bursar.BDT(15000),
		ApplicableClasses: []string{class},
		IsActive:          true,
	}))

	amount, err := b.ResolveFee(ctx, "school-1", fee.KindMonthlyExam, class)
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(20000), amount, "legacy table wins over the base fee")

	require.NoError(t, b.SetExamFee(ctx, "school-1", fee.GenerationLegacy, fee.KindMonthlyExam, class, bursar.BDT(0)))
	res, err := b.ExplainFee(ctx, "school-1", "Monthly Examination Fee", class)
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(15000), res.Amount, "a zero legacy cell falls through")
	assert.Equal(t, fee.TierClassWise, res.Tier)

	require.NoError(t, b.SetExamFee(ctx, "school-1", fee.GenerationManagement, fee.KindMonthlyExam, class, bursar.BDT(30000)))
	amount, err = b.ResolveFee(ctx, "school-1", fee.KindMonthlyExam, class)
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(30000), amount)

	res, err = b.ExplainFee(ctx, "school-1", fee.KindAnnualExam, class)
	require.NoError(t, err)
	assert.Equal(t, fee.TierDefault, res.Tier)
	assert.Equal(t, bursar.BDT(5000), res.Amount)
}

func TestDeactivateFeeDefinition(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	def := &fee.Definition{Name: "Tuition", Kind: fee.KindTuition, Amount: bursar.BDT(100000), IsActive: true}
	require.NoError(t, b.SaveFeeDefinition(ctx, def))
	require.NotEmpty(t, def.ID)

	amount, err := b.ResolveFee(ctx, "", fee.KindTuition, "Class 9")
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(100000), amount, "a definition without classes covers every class")

	require.NoError(t, b.DeactivateFeeDefinition(ctx, def.ID))
	amount, err = b.ResolveFee(ctx, "", fee.KindTuition, "Class 9")
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	assert.ErrorIs(t, b.DeactivateFeeDefinition(ctx, "fee_missing"), bursar.ErrNotFound)
}

func TestSaveFeeDefinitionValidation(t *testing.T) {
	b, _ := newEngine(t)
	tests := []struct {
		name string
		def  fee.Definition
	}{
		{"no name", fee.Definition{Kind: fee.KindTuition}},
		{"no kind", fee.Definition{Name: "x"}},
		{"negative", fee.Definition{Name: "x", Kind: fee.KindTuition, Amount: bursar.BDT(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.SaveFeeDefinition(context.Background(), &tt.def)
			assert.ErrorIs(t, err, bursar.ErrInvalidInput)
		})
	}
}

// ──────────────────────────────────────────────────
// Vouchers
// ──────────────────────────────────────────────────

func income(amount int64) *transaction.Transaction {
	return &transaction.Transaction{
		Type:   transaction.TypeIncome,
		Amount: bursar.BDT(amount),
		Status: transaction.StatusCompleted,
	}
}

func TestRecordTransactionVouchers(t *testing.T) {
	ctx := context.Background()
	b, s := newEngine(t)

	for _, v := range []string{"2025-003", "2025-001", "2024-077"} {
		_, err := s.Put(ctx, store.CollectionFinancialTransactions, "", store.Document{
			"type": "income", "amount": 10, "status": "completed", "voucherNumber": v, "date": fixedNow,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, "2025-004", b.NextVoucher(ctx, "2025"))
	assert.Equal(t, "2026-001", b.NextVoucher(ctx, "2026"))

	txn := income(10000)
	require.NoError(t, b.RecordTransaction(ctx, txn))
	assert.True(t, strings.HasPrefix(txn.ID, "txn_"))
	assert.Equal(t, "2025-005", txn.VoucherNumber, "the counter already handed out 004")

	got, err := b.Transaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.VoucherNumber, got.VoucherNumber)
	assert.Equal(t, bursar.BDT(10000), got.Amount)
}

func TestRecordTransactionConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	const n = 25
	var wg sync.WaitGroup
	vouchers := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn := income(int64(100 * (i + 1)))
			if assert.NoError(t, b.RecordTransaction(ctx, txn)) {
				vouchers[i] = txn.VoucherNumber
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, v := range vouchers {
		assert.False(t, seen[v], "duplicate voucher %s", v)
		seen[v] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("2025-%03d", i)], "missing 2025-%03d", i)
	}
}

// scriptedSequencer returns queued values, then the floor.
type scriptedSequencer struct {
	mu     sync.Mutex
	values []int64
	always int64
}

func (s *scriptedSequencer) NextSequence(_ context.Context, _ string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) > 0 {
		v := s.values[0]
		s.values = s.values[1:]
		return v, nil
	}
	if s.always > 0 {
		return s.always, nil
	}
	return floor, nil
}

func TestRecordTransactionSequencingRace(t *testing.T) {
	ctx := context.Background()

	t.Run("renumbers the colliding entry", func(t *testing.T) {
		rec := &recorder{}
		b, s := newEngine(t,
			bursar.WithSequencer(&scriptedSequencer{values: []int64{1}}),
			bursar.WithPlugin(rec),
		)
		_, err := s.Put(ctx, store.CollectionFinancialTransactions, "txn_other", store.Document{
			"type": "income", "amount": 5, "status": "completed", "voucherNumber": "2025-001", "date": fixedNow,
		})
		require.NoError(t, err)

		txn := income(500)
		require.NoError(t, b.RecordTransaction(ctx, txn))
		assert.Equal(t, "2025-002", txn.VoucherNumber)
		assert.Equal(t, []string{"2025-001"}, rec.races)

		stored, err := b.Transaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "2025-002", stored.VoucherNumber)
	})

	t.Run("falls back after the retries", func(t *testing.T) {
		rec := &recorder{}
		b, s := newEngine(t,
			bursar.WithSequencer(&scriptedSequencer{always: 1}),
			bursar.WithVoucherRetries(1),
			bursar.WithPlugin(rec),
		)
		_, err := s.Put(ctx, store.CollectionFinancialTransactions, "txn_other", store.Document{
			"type": "income", "amount": 5, "status": "completed", "voucherNumber": "2025-001", "date": fixedNow,
		})
		require.NoError(t, err)

		txn := income(500)
		require.NoError(t, b.RecordTransaction(ctx, txn), "a voucher race never fails the payment")
		assert.Equal(t, transaction.FallbackVoucher(fixedNow), txn.VoucherNumber)
		assert.Len(t, rec.races, 2)
		assert.Equal(t, []string{txn.VoucherNumber}, rec.fallbacks)
	})
}

func TestNextVoucherFallsBackWhenStoreDown(t *testing.T) {
	rec := &recorder{}
	b, s := newEngine(t, bursar.WithPlugin(rec))
	s.SetFailure(errors.New("connection refused"))

	v := b.NextVoucher(context.Background(), "2025")
	assert.Equal(t, "V"+fmt.Sprint(fixedNow.UnixMilli()), v)
	assert.Equal(t, []string{v}, rec.fallbacks)

	err := b.RecordTransaction(context.Background(), income(100))
	assert.ErrorIs(t, err, bursar.ErrStoreUnavailable)
}

func TestUpdateTransactionStatus(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	txn := &transaction.Transaction{Type: transaction.TypeExpense, Amount: bursar.BDT(700)}
	require.NoError(t, b.RecordTransaction(ctx, txn))
	assert.Equal(t, transaction.StatusPending, txn.Status)

	got, err := b.UpdateTransactionStatus(ctx, txn.ID, transaction.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, got.Status)

	_, err = b.UpdateTransactionStatus(ctx, txn.ID, transaction.StatusPending)
	var terr *bursar.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, bursar.ErrInvalidTransition)
	assert.Equal(t, "completed", terr.From)

	_, err = b.UpdateTransactionStatus(ctx, txn.ID, "lost")
	assert.ErrorIs(t, err, bursar.ErrInvalidInput)

	err = b.RecordTransaction(ctx, &transaction.Transaction{Type: "gift", Amount: bursar.BDT(0)})
	var multi bursar.MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 2)
}

// ──────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────

func entry(student, subject string, obtained float64) result.Entry {
	return result.Entry{
		StudentID:     student,
		ExamID:        "term-1",
		Subject:       subject,
		ObtainedMarks: obtained,
		TotalMarks:    100,
		ClassName:     "Class 5",
	}
}

func TestSaveResultIdempotent(t *testing.T) {
	ctx := context.Background()
	b, s := newEngine(t)

	first, err := b.SaveResult(ctx, entry("s1", "Math", 78))
	require.NoError(t, err)
	again, err := b.SaveResult(ctx, entry("s1", "Math", 78))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, s.Len(store.CollectionExamResults))

	_, err = b.SaveResult(ctx, entry(" s1 ", "Math ", 91))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len(store.CollectionExamResults), "blanks around the key are ignored")

	rec, err := b.Result(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 91.0, rec.ObtainedMarks)
	assert.Equal(t, "A+", rec.Grade)
	assert.Equal(t, result.StatusPass, rec.Status)
}

func TestSaveResultValidation(t *testing.T) {
	b, _ := newEngine(t)
	tests := []struct {
		name  string
		entry result.Entry
	}{
		{"missing student", entry("", "Math", 10)},
		{"missing subject", entry("s1", "", 10)},
		{"zero total", result.Entry{StudentID: "s1", ExamID: "e", Subject: "Math"}},
		{"above total", entry("s1", "Math", 101)},
		{"negative", entry("s1", "Math", -1)},
		{"NaN marks", entry("s1", "Math", math.NaN())},
		{"infinite marks", entry("s1", "Math", math.Inf(1))},
		{"infinite total", result.Entry{StudentID: "s1", ExamID: "e", Subject: "Math", ObtainedMarks: 10, TotalMarks: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.SaveResult(context.Background(), tt.entry)
			assert.ErrorIs(t, err, bursar.ErrInvalidInput)
		})
	}

	absent := entry("s1", "Math", 500)
	absent.IsAbsent = true
	_, err := b.SaveResult(context.Background(), absent)
	assert.NoError(t, err, "marks of an absent entry are ignored")
}

func TestSaveResultConcurrentOneRecord(t *testing.T) {
	ctx := context.Background()
	b, s := newEngine(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resultID, err := b.SaveResult(ctx, entry("s1", "Physics", float64(50+i)))
			if assert.NoError(t, err) {
				ids[i] = resultID
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len(store.CollectionExamResults))
	for _, resultID := range ids {
		assert.Equal(t, ids[0], resultID)
	}
}

func TestDuplicateResultsMergedOnRead(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b, s := newEngine(t, bursar.WithPlugin(rec))

	older := result.NewRecord("res_a", entry("s1", "Math", 40), fixedNow.Add(-time.Hour))
	newer := result.NewRecord("res_b", entry("s1", "Math", 65), fixedNow)
	for _, r := range []*result.Record{older, newer} {
		_, err := s.Put(ctx, store.CollectionExamResults, r.ID, r.ToDocument())
		require.NoError(t, err)
	}

	records, err := b.ExamResults(ctx, "term-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "res_b", records[0].ID)
	assert.Equal(t, 65.0, records[0].ObtainedMarks)
	assert.Equal(t, 1, s.Len(store.CollectionExamResults))

	require.Len(t, rec.conflicts, 1)
	assert.Equal(t, []string{"res_a"}, rec.conflicts[0].DroppedIDs())

	// A duplicate written behind the engine's back is merged by the next save.
	stray := result.NewRecord("res_c", entry("s1", "Math", 12), fixedNow.Add(-2*time.Hour))
	_, err = s.Put(ctx, store.CollectionExamResults, stray.ID, stray.ToDocument())
	require.NoError(t, err)

	resultID, err := b.SaveResult(ctx, entry("s1", "Math", 70))
	require.NoError(t, err)
	assert.Equal(t, "res_b", resultID)
	assert.Equal(t, 1, s.Len(store.CollectionExamResults))
}

func TestRankExam(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	ids := make(map[string]string)
	for student, marks := range map[string]float64{"a": 90, "b": 90, "c": 80, "d": 70} {
		resultID, err := b.SaveResult(ctx, entry(student, "Math", marks))
		require.NoError(t, err)
		ids[student] = resultID
	}
	absent := entry("e", "Math", 0)
	absent.IsAbsent = true
	absentID, err := b.SaveResult(ctx, absent)
	require.NoError(t, err)
	_, err = b.SaveResult(ctx, entry("a", "English", 55))
	require.NoError(t, err)

	ranked, err := b.RankExam(ctx, "term-1")
	require.NoError(t, err)
	require.Len(t, ranked, 6)
	assert.Equal(t, "English", ranked[0].Subject, "subjects come back in name order")

	want := map[string]int{"a": 1, "b": 1, "c": 3, "d": 4}
	for student, pos := range want {
		rec, err := b.Result(ctx, ids[student])
		require.NoError(t, err)
		require.NotNil(t, rec.Position, student)
		assert.Equal(t, pos, *rec.Position, student)
	}
	rec, err := b.Result(ctx, absentID)
	require.NoError(t, err)
	assert.Nil(t, rec.Position)

	_, err = b.SaveResult(ctx, entry("c", "Math", 95))
	require.NoError(t, err)
	rec, err = b.Result(ctx, ids["c"])
	require.NoError(t, err)
	assert.Nil(t, rec.Position, "a new mark makes the ranking stale")
}

func TestMeritList(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	for _, e := range []result.Entry{
		entry("alice", "Math", 90), entry("alice", "English", 80),
		entry("bob", "Math", 60), entry("bob", "English", 30),
	} {
		_, err := b.SaveResult(ctx, e)
		require.NoError(t, err)
	}

	standings, err := b.MeritList(ctx, "term-1")
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "alice", standings[0].StudentID)
	assert.Equal(t, 1, standings[0].Position)
	assert.Equal(t, 85.0, standings[0].Percentage)
	assert.Equal(t, 1, standings[1].Failed)
}

func TestImportResults(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b, s := newEngine(t, bursar.WithPlugin(rec), bursar.WithImportConcurrency(3))

	entries := []result.Entry{
		entry("s1", "Math", 70),
		entry("s2", "Math", 120),
		entry("s3", "Math", 40),
		entry("s1", "Math", 75),
	}
	report, err := b.ImportResults(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
	assert.ErrorIs(t, report.Err(), bursar.ErrInvalidInput)
	assert.Equal(t, 2, s.Len(store.CollectionExamResults))
	assert.Equal(t, [][3]int{{4, 3, 1}}, rec.imported)
}

func TestImportResultsNonFiniteMarks(t *testing.T) {
	b, s := newEngine(t)

	report, err := b.ImportResults(context.Background(), []result.Entry{
		entry("s1", "Math", 70),
		entry("s2", "Math", math.NaN()),
		{StudentID: "s3", ExamID: "term-1", Subject: "Math", ObtainedMarks: 10, TotalMarks: math.Inf(-1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.ErrorIs(t, report.Err(), bursar.ErrInvalidInput)
	assert.Equal(t, 1, s.Len(store.CollectionExamResults))
}

func TestImportRowsFromCSV(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	src := "student,subject,marks,total\ns1,Math,70,100\ns2,Math,oops,100\ns3,Math,AB,100\n"
	rows, err := sheet.ReadCSV(strings.NewReader(src), sheet.Defaults{ExamID: "term-1"})
	require.NoError(t, err)

	report, err := b.ImportRows(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Line)
}

func TestDeleteResult(t *testing.T) {
	ctx := context.Background()
	b, s := newEngine(t)

	resultID, err := b.SaveResult(ctx, entry("s1", "Math", 70))
	require.NoError(t, err)
	require.NoError(t, b.DeleteResult(ctx, resultID))
	assert.Equal(t, 0, s.Len(store.CollectionExamResults))
	assert.ErrorIs(t, b.DeleteResult(ctx, resultID), bursar.ErrNotFound)
}

// ──────────────────────────────────────────────────
// Fee collections
// ──────────────────────────────────────────────────

func TestFeeCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b, _ := newEngine(t, bursar.WithPlugin(rec))

	require.NoError(t, b.SetExamFee(ctx, "school-1", fee.GenerationLegacy, fee.KindMonthlyExam, "Class 5", bursar.BDT(50000)))

	late, err := b.AssessFee(ctx, bursar.Assessment{
		StudentID: "s1", ClassName: "Class 5", SchoolID: "school-1",
		Kind: fee.KindMonthlyExam, DueDate: fixedNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(50000), late.TotalAmount)
	assert.Equal(t, feecollection.StatusPending, late.Status)

	late, err = b.ApplyLateFee(ctx, late.ID, bursar.BDT(5000))
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(55000), late.TotalAmount)

	onTime, err := b.AssessFee(ctx, bursar.Assessment{
		StudentID: "s2", ClassName: "Class 5", SchoolID: "school-1",
		Kind: fee.KindMonthlyExam, DueDate: fixedNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	moved, err := b.MarkOverdue(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, []string{late.ID}, rec.overdue)

	_, _, err = b.CollectFee(ctx, late.ID, bursar.Payment{})
	assert.ErrorIs(t, err, bursar.ErrInvalidTransition, "an overdue collection cannot be paid")

	paid, txn, err := b.CollectFee(ctx, onTime.ID, bursar.Payment{Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, feecollection.StatusPaid, paid.Status)
	assert.Equal(t, txn.ID, paid.TransactionID)
	assert.Equal(t, bursar.BDT(50000), txn.Amount)
	assert.Equal(t, transaction.StatusCompleted, txn.Status)
	assert.Equal(t, "2025-001", txn.VoucherNumber)
	assert.Equal(t, []string{onTime.ID}, rec.paid)

	_, _, err = b.CollectFee(ctx, onTime.ID, bursar.Payment{})
	assert.ErrorIs(t, err, bursar.ErrInvalidTransition)

	fin, err := b.Summarize(ctx, transaction.Filter{SchoolID: "school-1"})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(50000), fin.TotalIncome)
	assert.Equal(t, bursar.BDT(50000), fin.NetAmount)

	classes, err := b.SummarizeClasses(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, summary.ClassFeeSummary{
		ClassName:     "Class 5",
		TotalStudents: 2,
		PaidStudents:  1,
		TotalPaid:     bursar.BDT(50000),
		TotalDue:      bursar.BDT(55000),
	}, classes["Class 5"])

	cancelled, err := b.CancelFeeCollection(ctx, onTime.ID)
	require.NoError(t, err)
	assert.Equal(t, feecollection.StatusCancelled, cancelled.Status)
	_, err = b.CancelFeeCollection(ctx, onTime.ID)
	assert.NoError(t, err, "cancelling twice is a no-op")

	voided, err := b.Transaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCancelled, voided.Status)

	fin, err = b.Summarize(ctx, transaction.Filter{})
	require.NoError(t, err)
	assert.True(t, fin.TotalIncome.IsZero())
	assert.Equal(t, 1, fin.TransactionCount)

	all, err := b.FeeCollections(ctx, feecollection.Filter{SchoolID: "school-1"})
	require.NoError(t, err)
	for _, r := range all {
		assert.Equal(t, r.Amount.Add(r.LateFee), r.TotalAmount, "total of %s", r.ID)
	}
}

func TestAssessFeeWithoutConfiguredFee(t *testing.T) {
	b, _ := newEngine(t)
	_, err := b.AssessFee(context.Background(), bursar.Assessment{
		StudentID: "s1", ClassName: "Class 1", Kind: fee.KindAdmission,
	})
	assert.ErrorIs(t, err, bursar.ErrInvalidInput)
}

func assessTuition(t *testing.T, b *bursar.Bursar, student string, amount int64, due time.Time) *feecollection.Record {
	t.Helper()
	rec, err := b.AssessFee(context.Background(), bursar.Assessment{
		StudentID: student, ClassName: "Class 5", SchoolID: "school-1",
		Kind: fee.KindTuition, Amount: bursar.BDT(amount), DueDate: due,
	})
	require.NoError(t, err)
	return rec
}

func TestMarkOverdueSkipsRecordsSettledDuringSweep(t *testing.T) {
	ctx := context.Background()
	hs := newHookStore()
	b := bursar.New(hs, bursar.WithClock(func() time.Time { return fixedNow }))

	overdue := fixedNow.Add(-48 * time.Hour)
	paid := assessTuition(t, b, "s1", 30000, overdue)
	cancelled := assessTuition(t, b, "s2", 30000, overdue)
	late := assessTuition(t, b, "s3", 30000, overdue)

	// Settle two records after the sweep has read the due list.
	hs.afterQuery(store.CollectionFeeCollections, func() {
		_, _, err := b.CollectFee(ctx, paid.ID, bursar.Payment{})
		assert.NoError(t, err)
		_, err = b.CancelFeeCollection(ctx, cancelled.ID)
		assert.NoError(t, err)
	})

	moved, err := b.MarkOverdue(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	for id, want := range map[string]feecollection.Status{
		paid.ID:      feecollection.StatusPaid,
		cancelled.ID: feecollection.StatusCancelled,
		late.ID:      feecollection.StatusOverdue,
	} {
		got, err := b.FeeCollection(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "record %s", id)
	}
}

func TestFeeAmountsTakeEngineCurrency(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	rec, err := b.AssessFee(ctx, bursar.Assessment{
		StudentID: "s1", ClassName: "Class 5", Kind: fee.KindTuition,
		Amount: bursar.Money{Amount: 30000},
	})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(30000), rec.TotalAmount)

	rec, err = b.ApplyLateFee(ctx, rec.ID, bursar.Money{Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(35000), rec.TotalAmount)

	rec, err = b.ApplyLateFee(ctx, rec.ID, bursar.Money{Amount: 2000, Currency: "BDT"})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(32000), rec.TotalAmount)

	_, err = b.ApplyLateFee(ctx, rec.ID, bursar.USD(100))
	assert.ErrorIs(t, err, bursar.ErrInvalidInput)

	_, err = b.AssessFee(ctx, bursar.Assessment{
		StudentID: "s2", ClassName: "Class 5", Kind: fee.KindTuition, Amount: bursar.USD(100),
	})
	assert.ErrorIs(t, err, bursar.ErrInvalidInput)

	stored, err := b.FeeCollection(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(30000), stored.Amount)
	assert.Equal(t, bursar.BDT(2000), stored.LateFee)
	assert.Equal(t, bursar.BDT(32000), stored.TotalAmount)
}

func TestCollectFeeVoidsIncomeWhenCollectionUpdateFails(t *testing.T) {
	ctx := context.Background()
	hs := newHookStore()
	b := bursar.New(hs, bursar.WithClock(func() time.Time { return fixedNow }))

	rec := assessTuition(t, b, "s1", 30000, fixedNow.Add(24*time.Hour))

	hs.failUpdate(store.CollectionFeeCollections, errors.New("write conflict"))
	_, txn, err := b.CollectFee(ctx, rec.ID, bursar.Payment{})
	require.Error(t, err)
	assert.Nil(t, txn)

	txns, err := b.Transactions(ctx, transaction.Filter{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, transaction.StatusCancelled, txns[0].Status)

	pending, err := b.FeeCollection(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, feecollection.StatusPending, pending.Status)

	// A retry counts the fee once.
	_, txn, err = b.CollectFee(ctx, rec.ID, bursar.Payment{})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, txn.Status)

	fin, err := b.Summarize(ctx, transaction.Filter{})
	require.NoError(t, err)
	assert.Equal(t, bursar.BDT(30000), fin.TotalIncome)
}

func TestSetExamFeeConcurrentCells(t *testing.T) {
	ctx := context.Background()
	b, _ := newEngine(t)

	const classes = 16
	gen := func(i int) fee.Generation {
		if i%2 == 0 {
			return fee.GenerationManagement
		}
		return fee.GenerationLegacy
	}

	var wg sync.WaitGroup
	for i := range classes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.SetExamFee(ctx, "school-1", gen(i), fee.KindMonthlyExam,
				fmt.Sprintf("Class %d", i), bursar.BDT(int64(i+1)*100))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := range classes {
		res, err := b.ExplainFee(ctx, "school-1", fee.KindMonthlyExam, fmt.Sprintf("Class %d", i))
		require.NoError(t, err)
		assert.Equal(t, bursar.BDT(int64(i+1)*100), res.Amount, "class %d", i)
		want := fee.TierLegacy
		if gen(i) == fee.GenerationManagement {
			want = fee.TierManagement
		}
		assert.Equal(t, want, res.Tier, "class %d", i)
	}
}

// ──────────────────────────────────────────────────
// Failures and lifecycle
// ──────────────────────────────────────────────────

// hookStore wraps the memory store to interleave work with engine calls.
type hookStore struct {
	*memory.Store

	mu      sync.Mutex
	queried map[string]func()
	failing map[string]error
}

func newHookStore() *hookStore {
	return &hookStore{
		Store:   memory.New(),
		queried: make(map[string]func()),
		failing: make(map[string]error),
	}
}

// afterQuery runs fn once, right after the next query of collection.
func (h *hookStore) afterQuery(collection string, fn func()) {
	h.mu.Lock()
	h.queried[collection] = fn
	h.mu.Unlock()
}

// failUpdate makes the next update of collection fail with err.
func (h *hookStore) failUpdate(collection string, err error) {
	h.mu.Lock()
	h.failing[collection] = err
	h.mu.Unlock()
}

func (h *hookStore) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	docs, err := h.Store.Query(ctx, collection, q)
	h.mu.Lock()
	fn := h.queried[collection]
	delete(h.queried, collection)
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return docs, err
}

func (h *hookStore) Update(ctx context.Context, collection, docID string, patch store.Document) error {
	h.mu.Lock()
	err := h.failing[collection]
	delete(h.failing, collection)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Store.Update(ctx, collection, docID, patch)
}

func TestStoreUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	b, s := newEngine(t)
	s.SetFailure(errors.New("connection refused"))

	_, err := b.SaveResult(ctx, entry("s1", "Math", 50))
	assert.ErrorIs(t, err, bursar.ErrStoreUnavailable)
	assert.True(t, bursar.IsRetryable(err))

	_, err = b.ResolveFee(ctx, "school-1", fee.KindMonthlyExam, "Class 1")
	assert.ErrorIs(t, err, bursar.ErrStoreUnavailable)

	_, err = b.Summarize(ctx, transaction.Filter{})
	var serr *bursar.StoreError
	assert.ErrorAs(t, err, &serr)
}

func TestWatchSummary(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	rec := &recorder{}
	b, s := newEngine(t, bursar.WithPlugin(rec))

	var (
		mu     sync.Mutex
		latest summary.Financial
		errs   []error
	)
	p, err := b.WatchSummary(ctx, transaction.Filter{}, summary.SinkFuncs[summary.Financial]{
		Update: func(f summary.Financial) {
			mu.Lock()
			latest = f
			mu.Unlock()
		},
		Error: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, b.RecordTransaction(ctx, income(12500)))
	require.NoError(t, b.RecordTransaction(ctx, &transaction.Transaction{
		Type: transaction.TypeExpense, Amount: bursar.BDT(2500), Status: transaction.StatusCompleted,
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest.NetAmount == bursar.BDT(10000) && latest.TransactionCount == 2
	}, time.Second, 5*time.Millisecond)

	s.SetFailure(errors.New("connection reset"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ErrorIs(t, errs[0], bursar.ErrStoreUnavailable)
	mu.Unlock()
	s.SetFailure(nil)

	p.Unsubscribe()
	rec.mu.Lock()
	assert.Len(t, rec.projErrs, 1)
	rec.mu.Unlock()
}

func TestWatchClassSummary(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	b, _ := newEngine(t)

	first := assessTuition(t, b, "s1", 30000, fixedNow.Add(24*time.Hour))
	second := assessTuition(t, b, "s2", 20000, fixedNow.Add(24*time.Hour))

	var (
		mu      sync.Mutex
		latest  map[string]summary.ClassFeeSummary
		updates atomic.Int32
	)
	p, err := b.WatchClassSummary(ctx, "school-1", summary.SinkFuncs[map[string]summary.ClassFeeSummary]{
		Update: func(m map[string]summary.ClassFeeSummary) {
			mu.Lock()
			latest = m
			mu.Unlock()
			updates.Add(1)
		},
	})
	require.NoError(t, err)

	current := func() summary.ClassFeeSummary {
		mu.Lock()
		defer mu.Unlock()
		return latest["Class 5"]
	}
	require.Eventually(t, func() bool { return current().TotalStudents == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, current().PaidStudents)

	_, _, err = b.CollectFee(ctx, first.ID, bursar.Payment{})
	require.NoError(t, err)
	want := summary.ClassFeeSummary{
		ClassName:     "Class 5",
		TotalStudents: 2,
		PaidStudents:  1,
		TotalPaid:     bursar.BDT(30000),
		TotalDue:      bursar.BDT(20000),
	}
	require.Eventually(t, func() bool { return current() == want }, time.Second, 5*time.Millisecond)

	p.Unsubscribe()
	seen := updates.Load()

	_, err = b.CancelFeeCollection(ctx, second.ID)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, updates.Load(), "no callbacks after Unsubscribe")
	assert.Equal(t, want, current())
}

func TestReexportedConstructors(t *testing.T) {
	e := bursar.NewEntityAt(fixedNow.In(time.FixedZone("BST", 6*3600)))
	assert.Equal(t, fixedNow, e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
	assert.Equal(t, bursar.BDT(20000), bursar.FromMajor("bdt", 200))
	assert.Equal(t, bursar.BDT(20000), bursar.Sum(bursar.BDT(15000), bursar.BDT(5000)))
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, s := newEngine(t, bursar.WithOverdueSweep("@every 1h"))
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())

	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, bursar.ErrStoreClosed)

	bad, _ := newEngine(t, bursar.WithOverdueSweep("every now and then"))
	assert.ErrorIs(t, bad.Start(context.Background()), bursar.ErrInvalidInput)
}
