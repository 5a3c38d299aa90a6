// Package observability provides a metrics extension for Bursar that records
// reconciliation event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnFeeDefinitionSaved       = (*MetricsExtension)(nil)
	_ plugin.OnFeeAssessed              = (*MetricsExtension)(nil)
	_ plugin.OnFeePaid                  = (*MetricsExtension)(nil)
	_ plugin.OnFeeCancelled             = (*MetricsExtension)(nil)
	_ plugin.OnFeesOverdue              = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRecorded      = (*MetricsExtension)(nil)
	_ plugin.OnTransactionStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnVoucherFallback          = (*MetricsExtension)(nil)
	_ plugin.OnSequencingRace           = (*MetricsExtension)(nil)
	_ plugin.OnResultSaved              = (*MetricsExtension)(nil)
	_ plugin.OnIdentityConflict         = (*MetricsExtension)(nil)
	_ plugin.OnExamRanked               = (*MetricsExtension)(nil)
	_ plugin.OnResultsImported          = (*MetricsExtension)(nil)
	_ plugin.OnProjectionError          = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records reconciliation metrics.
// Register it as a Bursar plugin.
type MetricsExtension struct {
	// Fee metrics
	FeeDefinitionsSaved Counter
	FeesAssessed        Counter
	FeesPaid            Counter
	FeesCancelled       Counter
	FeesOverdue         Counter
	FeePaidAmount       Histogram

	// Ledger metrics
	TransactionsRecorded Counter
	TransactionsVoided   Counter
	VoucherFallbacks     Counter
	VoucherCollisions    Counter

	// Result metrics
	ResultsCreated     Counter
	ResultsOverwritten Counter
	ResultsMerged      Counter
	ExamsRanked        Counter
	ImportBatchSize    Histogram
	ImportFailures     Counter
	ImportLatency      Histogram

	// Error metrics
	ProjectionErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		FeeDefinitionsSaved: factory.Counter("bursar.fee.definitions.saved"),
		FeesAssessed:        factory.Counter("bursar.fee.assessed"),
		FeesPaid:            factory.Counter("bursar.fee.paid"),
		FeesCancelled:       factory.Counter("bursar.fee.cancelled"),
		FeesOverdue:         factory.Counter("bursar.fee.overdue"),
		FeePaidAmount:       factory.Histogram("bursar.fee.paid.amount_major"),

		TransactionsRecorded: factory.Counter("bursar.transaction.recorded"),
		TransactionsVoided:   factory.Counter("bursar.transaction.voided"),
		VoucherFallbacks:     factory.Counter("bursar.voucher.fallback"),
		VoucherCollisions:    factory.Counter("bursar.voucher.collision"),

		ResultsCreated:     factory.Counter("bursar.result.created"),
		ResultsOverwritten: factory.Counter("bursar.result.overwritten"),
		ResultsMerged:      factory.Counter("bursar.result.merged"),
		ExamsRanked:        factory.Counter("bursar.exam.ranked"),
		ImportBatchSize:    factory.Histogram("bursar.result.import.batch.size"),
		ImportFailures:     factory.Counter("bursar.result.import.failures"),
		ImportLatency:      factory.Histogram("bursar.result.import.latency_ms"),

		ProjectionErrors: factory.Counter("bursar.projection.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Fee hooks
// ──────────────────────────────────────────────────

// OnFeeDefinitionSaved implements plugin.OnFeeDefinitionSaved.
func (m *MetricsExtension) OnFeeDefinitionSaved(_ context.Context, _ *fee.Definition) error {
	m.FeeDefinitionsSaved.Inc()
	return nil
}

// OnFeeAssessed implements plugin.OnFeeAssessed.
func (m *MetricsExtension) OnFeeAssessed(_ context.Context, _ *feecollection.Record) error {
	m.FeesAssessed.Inc()
	return nil
}

// OnFeePaid implements plugin.OnFeePaid.
func (m *MetricsExtension) OnFeePaid(_ context.Context, rec *feecollection.Record, _ *transaction.Transaction) error {
	m.FeesPaid.Inc()
	m.FeePaidAmount.Observe(rec.TotalAmount.Major())
	return nil
}

// OnFeeCancelled implements plugin.OnFeeCancelled.
func (m *MetricsExtension) OnFeeCancelled(_ context.Context, _ *feecollection.Record) error {
	m.FeesCancelled.Inc()
	return nil
}

// OnFeesOverdue implements plugin.OnFeesOverdue.
func (m *MetricsExtension) OnFeesOverdue(_ context.Context, recordIDs []string) error {
	m.FeesOverdue.Add(float64(len(recordIDs)))
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (m *MetricsExtension) OnTransactionRecorded(_ context.Context, _ *transaction.Transaction) error {
	m.TransactionsRecorded.Inc()
	return nil
}

// OnTransactionStatusChanged implements plugin.OnTransactionStatusChanged.
func (m *MetricsExtension) OnTransactionStatusChanged(_ context.Context, txn *transaction.Transaction, _ transaction.Status) error {
	if txn.Status == transaction.StatusCancelled {
		m.TransactionsVoided.Inc()
	}
	return nil
}

// OnVoucherFallback implements plugin.OnVoucherFallback.
func (m *MetricsExtension) OnVoucherFallback(_ context.Context, _, _ string, _ error) error {
	m.VoucherFallbacks.Inc()
	return nil
}

// OnSequencingRace implements plugin.OnSequencingRace.
func (m *MetricsExtension) OnSequencingRace(_ context.Context, _, _ string, _ int) error {
	m.VoucherCollisions.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Result hooks
// ──────────────────────────────────────────────────

// OnResultSaved implements plugin.OnResultSaved.
func (m *MetricsExtension) OnResultSaved(_ context.Context, _ *result.Record, created bool) error {
	if created {
		m.ResultsCreated.Inc()
	} else {
		m.ResultsOverwritten.Inc()
	}
	return nil
}

// OnIdentityConflict implements plugin.OnIdentityConflict.
func (m *MetricsExtension) OnIdentityConflict(_ context.Context, c result.Conflict) error {
	m.ResultsMerged.Add(float64(len(c.Dropped)))
	return nil
}

// OnExamRanked implements plugin.OnExamRanked.
func (m *MetricsExtension) OnExamRanked(_ context.Context, _ string, _ []*result.Record) error {
	m.ExamsRanked.Inc()
	return nil
}

// OnResultsImported implements plugin.OnResultsImported.
func (m *MetricsExtension) OnResultsImported(_ context.Context, total, _, failed int, elapsed time.Duration) error {
	m.ImportBatchSize.Observe(float64(total))
	m.ImportFailures.Add(float64(failed))
	m.ImportLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnProjectionError implements plugin.OnProjectionError.
func (m *MetricsExtension) OnProjectionError(_ context.Context, _ string, _ error) error {
	m.ProjectionErrors.Inc()
	return nil
}
