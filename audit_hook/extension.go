// Package audithook turns Bursar reconciliation events into audit trail
// entries.
//
// It defines a local Recorder interface so the package does not depend on
// any audit backend. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/result"
	"github.com/xraph/bursar/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnFeeDefinitionSaved       = (*Extension)(nil)
	_ plugin.OnFeeAssessed              = (*Extension)(nil)
	_ plugin.OnFeePaid                  = (*Extension)(nil)
	_ plugin.OnFeeCancelled             = (*Extension)(nil)
	_ plugin.OnFeesOverdue              = (*Extension)(nil)
	_ plugin.OnTransactionRecorded      = (*Extension)(nil)
	_ plugin.OnTransactionStatusChanged = (*Extension)(nil)
	_ plugin.OnVoucherFallback          = (*Extension)(nil)
	_ plugin.OnSequencingRace           = (*Extension)(nil)
	_ plugin.OnResultSaved              = (*Extension)(nil)
	_ plugin.OnIdentityConflict         = (*Extension)(nil)
	_ plugin.OnExamRanked               = (*Extension)(nil)
	_ plugin.OnResultsImported          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records Bursar events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Fee hooks
// ──────────────────────────────────────────────────

// OnFeeDefinitionSaved implements plugin.OnFeeDefinitionSaved.
func (e *Extension) OnFeeDefinitionSaved(ctx context.Context, def *fee.Definition) error {
	return e.record(ctx, ActionFeeDefinitionSaved, SeverityInfo, OutcomeSuccess,
		ResourceFeeDefinition, def.ID, CategoryFees, nil,
		"name", def.Name,
		"fee_kind", string(def.Kind),
		"amount", def.Amount.String(),
		"active", def.IsActive,
	)
}

// OnFeeAssessed implements plugin.OnFeeAssessed.
func (e *Extension) OnFeeAssessed(ctx context.Context, rec *feecollection.Record) error {
	return e.record(ctx, ActionFeeAssessed, SeverityInfo, OutcomeSuccess,
		ResourceFeeCollection, rec.ID, CategoryFees, nil,
		"student_id", rec.StudentID,
		"class_name", rec.ClassName,
		"fee_kind", rec.FeeKind,
		"total_amount", rec.TotalAmount.String(),
		"due_date", rec.DueDate,
	)
}

// OnFeePaid implements plugin.OnFeePaid.
func (e *Extension) OnFeePaid(ctx context.Context, rec *feecollection.Record, txn *transaction.Transaction) error {
	return e.record(ctx, ActionFeePaid, SeverityInfo, OutcomeSuccess,
		ResourceFeeCollection, rec.ID, CategoryFees, nil,
		"student_id", rec.StudentID,
		"total_amount", rec.TotalAmount.String(),
		"transaction_id", txn.ID,
		"voucher", txn.VoucherNumber,
	)
}

// OnFeeCancelled implements plugin.OnFeeCancelled.
func (e *Extension) OnFeeCancelled(ctx context.Context, rec *feecollection.Record) error {
	return e.record(ctx, ActionFeeCancelled, SeverityWarning, OutcomeSuccess,
		ResourceFeeCollection, rec.ID, CategoryFees, nil,
		"student_id", rec.StudentID,
		"transaction_id", rec.TransactionID,
	)
}

// OnFeesOverdue implements plugin.OnFeesOverdue.
func (e *Extension) OnFeesOverdue(ctx context.Context, recordIDs []string) error {
	return e.record(ctx, ActionFeesOverdue, SeverityInfo, OutcomeSuccess,
		ResourceFeeCollection, "", CategoryFees, nil,
		"count", len(recordIDs),
		"record_ids", recordIDs,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (e *Extension) OnTransactionRecorded(ctx context.Context, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionRecorded, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txn.ID, CategoryLedger, nil,
		"type", string(txn.Type),
		"amount", txn.Amount.String(),
		"voucher", txn.VoucherNumber,
		"status", string(txn.Status),
	)
}

// OnTransactionStatusChanged implements plugin.OnTransactionStatusChanged.
func (e *Extension) OnTransactionStatusChanged(ctx context.Context, txn *transaction.Transaction, from transaction.Status) error {
	return e.record(ctx, ActionTransactionStatusChanged, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, txn.ID, CategoryLedger, nil,
		"from", string(from),
		"to", string(txn.Status),
		"voucher", txn.VoucherNumber,
	)
}

// OnVoucherFallback implements plugin.OnVoucherFallback.
func (e *Extension) OnVoucherFallback(ctx context.Context, year, token string, cause error) error {
	return e.record(ctx, ActionVoucherFallback, SeverityWarning, OutcomePartial,
		ResourceVoucher, token, CategoryLedger, cause,
		"year", year,
	)
}

// OnSequencingRace implements plugin.OnSequencingRace.
func (e *Extension) OnSequencingRace(ctx context.Context, voucher, txnID string, attempt int) error {
	return e.record(ctx, ActionVoucherCollision, SeverityWarning, OutcomePartial,
		ResourceVoucher, voucher, CategoryLedger, nil,
		"transaction_id", txnID,
		"attempt", attempt,
	)
}

// ──────────────────────────────────────────────────
// Result hooks
// ──────────────────────────────────────────────────

// OnResultSaved implements plugin.OnResultSaved.
func (e *Extension) OnResultSaved(ctx context.Context, rec *result.Record, created bool) error {
	action := ActionResultOverwritten
	if created {
		action = ActionResultSaved
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceExamResult, rec.ID, CategoryAcademic, nil,
		"key", rec.Key().String(),
		"obtained_marks", rec.ObtainedMarks,
		"total_marks", rec.TotalMarks,
		"grade", rec.Grade,
		"absent", rec.IsAbsent,
	)
}

// OnIdentityConflict implements plugin.OnIdentityConflict.
func (e *Extension) OnIdentityConflict(ctx context.Context, c result.Conflict) error {
	return e.record(ctx, ActionResultsMerged, SeverityWarning, OutcomePartial,
		ResourceExamResult, c.Kept.ID, CategoryAcademic, nil,
		"key", c.Key.String(),
		"dropped", c.DroppedIDs(),
	)
}

// OnExamRanked implements plugin.OnExamRanked.
func (e *Extension) OnExamRanked(ctx context.Context, examID string, records []*result.Record) error {
	return e.record(ctx, ActionExamRanked, SeverityInfo, OutcomeSuccess,
		ResourceExam, examID, CategoryAcademic, nil,
		"records", len(records),
	)
}

// OnResultsImported implements plugin.OnResultsImported.
func (e *Extension) OnResultsImported(ctx context.Context, total, succeeded, failed int, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	severity := SeverityInfo
	switch {
	case failed > 0 && succeeded == 0:
		outcome, severity = OutcomeFailure, SeverityError
	case failed > 0:
		outcome, severity = OutcomePartial, SeverityWarning
	}
	return e.record(ctx, ActionResultsImported, severity, outcome,
		ResourceExamResult, "", CategoryAcademic, nil,
		"total", total,
		"succeeded", succeeded,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
