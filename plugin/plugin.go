// Package plugin provides an extensible plugin system for Bursar.
// Plugins implement Plugin plus any of the hook interfaces below; the
// registry discovers the hooks once, at registration.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *bursar.Bursar.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Fee hooks
// ──────────────────────────────────────────────────

// OnFeeDefinitionSaved is called after a fee definition is written or
// deactivated.
type OnFeeDefinitionSaved interface {
	Plugin
	OnFeeDefinitionSaved(ctx context.Context, def *fee.Definition) error
}

// OnFeeAssessed is called when a fee collection is created.
type OnFeeAssessed interface {
	Plugin
	OnFeeAssessed(ctx context.Context, rec *feecollection.Record) error
}

// OnFeePaid is called when a fee collection is paid.
type OnFeePaid interface {
	Plugin
	OnFeePaid(ctx context.Context, rec *feecollection.Record, txn *transaction.Transaction) error
}

// OnFeeCancelled is called when a fee collection is cancelled.
type OnFeeCancelled interface {
	Plugin
	OnFeeCancelled(ctx context.Context, rec *feecollection.Record) error
}

// OnFeesOverdue is called after an overdue sweep moved at least one record.
type OnFeesOverdue interface {
	Plugin
	OnFeesOverdue(ctx context.Context, recordIDs []string) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded is called after a transaction is written with its
// final voucher number.
type OnTransactionRecorded interface {
	Plugin
	OnTransactionRecorded(ctx context.Context, txn *transaction.Transaction) error
}

// OnTransactionStatusChanged is called after a status correction.
type OnTransactionStatusChanged interface {
	Plugin
	OnTransactionStatusChanged(ctx context.Context, txn *transaction.Transaction, from transaction.Status) error
}

// OnVoucherFallback is called when a time-based token replaced a
// sequential voucher.
type OnVoucherFallback interface {
	Plugin
	OnVoucherFallback(ctx context.Context, year, token string, cause error) error
}

// OnSequencingRace is called when two transactions were found sharing a
// voucher and one was renumbered.
type OnSequencingRace interface {
	Plugin
	OnSequencingRace(ctx context.Context, voucher, txnID string, attempt int) error
}

// ──────────────────────────────────────────────────
// Result hooks
// ──────────────────────────────────────────────────

// OnResultSaved is called after a result upsert. created is false when an
// existing record was overwritten.
type OnResultSaved interface {
	Plugin
	OnResultSaved(ctx context.Context, rec *result.Record, created bool) error
}

// OnIdentityConflict is called when duplicate results were merged.
type OnIdentityConflict interface {
	Plugin
	OnIdentityConflict(ctx context.Context, conflict result.Conflict) error
}

// OnExamRanked is called after positions are persisted for an exam.
type OnExamRanked interface {
	Plugin
	OnExamRanked(ctx context.Context, examID string, records []*result.Record) error
}

// OnResultsImported is called after a bulk import.
type OnResultsImported interface {
	Plugin
	OnResultsImported(ctx context.Context, total, succeeded, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Projection hooks
// ──────────────────────────────────────────────────

// OnProjectionError is called when a live projection reports an error to
// its sink.
type OnProjectionError interface {
	Plugin
	OnProjectionError(ctx context.Context, projection string, err error) error
}
