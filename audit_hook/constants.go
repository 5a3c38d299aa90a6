package audithook

// Action constants for audit events.
const (
	// Fee actions
	ActionFeeDefinitionSaved = "fee_definition.saved"
	ActionFeeAssessed        = "fee.assessed"
	ActionFeePaid            = "fee.paid"
	ActionFeeCancelled       = "fee.cancelled"
	ActionFeesOverdue        = "fee.overdue"

	// Ledger actions
	ActionTransactionRecorded      = "transaction.recorded"
	ActionTransactionStatusChanged = "transaction.status_changed"
	ActionVoucherFallback          = "voucher.fallback"
	ActionVoucherCollision         = "voucher.collision"

	// Result actions
	ActionResultSaved       = "result.saved"
	ActionResultOverwritten = "result.overwritten"
	ActionResultsMerged     = "result.merged"
	ActionExamRanked        = "exam.ranked"
	ActionResultsImported   = "result.imported"
)

// Resource constants for audit events.
const (
	ResourceFeeDefinition = "fee_definition"
	ResourceFeeCollection = "fee_collection"
	ResourceTransaction   = "transaction"
	ResourceVoucher       = "voucher"
	ResourceExamResult    = "exam_result"
	ResourceExam          = "exam"
)

// Category constants for audit events.
const (
	CategoryFees     = "fees"
	CategoryLedger   = "ledger"
	CategoryAcademic = "academic"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
