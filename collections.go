package bursar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/transaction"
	"github.com/xraph/bursar/types"
)

// Assessment asks for a fee to be charged to one student.
type Assessment struct {
	StudentID string
	ClassName string
	SchoolID  string
	// FeeRef names the fee definition being charged. When Kind is empty
	// the definition's kind is used.
	FeeRef string
	Kind   fee.Kind
	ExamID string
	// DueDate defaults to the assessment time.
	DueDate time.Time
	// Amount overrides fee resolution when positive.
	Amount types.Money
}

// Payment describes how a fee collection was settled.
type Payment struct {
	// Date defaults to now.
	Date        time.Time
	Method      string
	Description string
}

// ──────────────────────────────────────────────────
// Fee Collections
// ──────────────────────────────────────────────────

// AssessFee creates a pending fee collection. Without an explicit amount
// the fee is resolved for the student's class.
func (b *Bursar) AssessFee(ctx context.Context, a Assessment) (*feecollection.Record, error) {
	var errs MultiError
	if a.StudentID == "" {
		errs.Add(ValidationError{Field: "studentId", Message: "must not be empty"})
	}
	if a.ClassName == "" {
		errs.Add(ValidationError{Field: "className", Message: "must not be empty"})
	}
	if a.FeeRef == "" && a.Kind == "" {
		errs.Add(ValidationError{Field: "feeKind", Message: "a fee reference or kind is required"})
	}
	if a.Amount.IsNegative() {
		errs.Add(ValidationError{Field: "amount", Message: "must not be negative"})
	}
	amount, err := b.ownCurrency("amount", a.Amount)
	errs.Add(err)
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}

	kind := fee.ParseKind(string(a.Kind))
	if kind == "" {
		def, err := b.fees.Get(ctx, a.FeeRef)
		if err != nil {
			return nil, err
		}
		kind = def.Kind
	}

	if !amount.IsPositive() {
		resolved, err := b.ResolveFee(ctx, a.SchoolID, kind, a.ClassName)
		if err != nil {
			return nil, err
		}
		amount = resolved
	}
	if !amount.IsPositive() {
		return nil, ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("no %s fee configured for class %s", kind, a.ClassName),
		}
	}

	now := b.now()
	due := a.DueDate
	if due.IsZero() {
		due = now
	}
	ref := a.FeeRef
	if ref == "" {
		ref = string(kind)
	}

	rec := &feecollection.Record{
		Entity:    types.NewEntityAt(now),
		ID:        id.NewFeeCollectionID().String(),
		FeeRef:    ref,
		StudentID: a.StudentID,
		ClassName: a.ClassName,
		SchoolID:  a.SchoolID,
		ExamID:    a.ExamID,
		FeeKind:   string(kind),
		Amount:    amount,
		LateFee:   types.Zero(amount.Currency),
		Status:    feecollection.StatusPending,
		DueDate:   due.UTC(),
	}
	rec.Recompute()

	if err := b.collections.Put(ctx, rec); err != nil {
		return nil, err
	}

	b.logger.Debug("fee assessed",
		"fee_collection_id", rec.ID,
		"student_id", rec.StudentID,
		"fee_kind", rec.FeeKind,
		"amount", rec.TotalAmount.String(),
	)
	b.plugins.EmitFeeAssessed(ctx, rec)
	return rec, nil
}

// ApplyLateFee replaces the late fee of a pending or overdue collection.
func (b *Bursar) ApplyLateFee(ctx context.Context, recordID string, lateFee types.Money) (*feecollection.Record, error) {
	if lateFee.IsNegative() {
		return nil, ValidationError{Field: "lateFee", Message: "must not be negative"}
	}
	lateFee, err := b.ownCurrency("lateFee", lateFee)
	if err != nil {
		return nil, err
	}

	unlock, err := b.locker.Lock(ctx, collectionLockKey(recordID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := b.collections.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != feecollection.StatusPending && rec.Status != feecollection.StatusOverdue {
		return nil, ValidationError{
			Field:   "status",
			Message: "late fee applies to pending or overdue collections, not " + string(rec.Status),
		}
	}

	rec.SetLateFee(lateFee)
	now := b.now()
	patch := rec.AmountPatch()
	patch["updatedAt"] = now
	if err := b.collections.Update(ctx, recordID, patch); err != nil {
		return nil, err
	}
	rec.TouchAt(now)
	return rec, nil
}

// CollectFee marks a pending collection paid and records the matching
// income in the ledger.
func (b *Bursar) CollectFee(ctx context.Context, recordID string, p Payment) (*feecollection.Record, *transaction.Transaction, error) {
	unlock, err := b.locker.Lock(ctx, collectionLockKey(recordID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	rec, err := b.collections.Get(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	if !rec.Status.CanTransition(feecollection.StatusPaid) {
		return nil, nil, &TransitionError{
			Resource: "fee collection",
			ID:       recordID,
			From:     string(rec.Status),
			To:       string(feecollection.StatusPaid),
		}
	}

	paidAt := p.Date
	if paidAt.IsZero() {
		paidAt = b.now()
	}
	paidAt = paidAt.UTC()

	description := p.Description
	if description == "" {
		description = fmt.Sprintf("%s fee for %s", rec.FeeKind, rec.StudentID)
	}
	rec.Recompute()
	txn := &transaction.Transaction{
		SchoolID:    rec.SchoolID,
		Type:        transaction.TypeIncome,
		Amount:      rec.TotalAmount,
		Date:        paidAt,
		Status:      transaction.StatusCompleted,
		StudentID:   rec.StudentID,
		ClassID:     rec.ClassName,
		Category:    "fee",
		Description: description,
	}
	if p.Method != "" {
		txn.Category = "fee:" + p.Method
	}
	if err := b.RecordTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}

	now := b.now()
	patch := rec.AmountPatch()
	patch["status"] = string(feecollection.StatusPaid)
	patch["paymentDate"] = paidAt
	patch["transactionId"] = txn.ID
	patch["updatedAt"] = now
	if err := b.collections.Update(ctx, recordID, patch); err != nil {
		b.voidPayment(ctx, recordID, txn, err)
		return nil, nil, err
	}

	rec.Status = feecollection.StatusPaid
	rec.PaymentDate = &paidAt
	rec.TransactionID = txn.ID
	rec.TouchAt(now)

	b.plugins.EmitFeePaid(ctx, rec, txn)
	return rec, txn, nil
}

// voidPayment cancels the income of a payment whose collection could not
// be marked paid, so a retry does not count the fee twice.
func (b *Bursar) voidPayment(ctx context.Context, recordID string, txn *transaction.Transaction, cause error) {
	_, err := b.UpdateTransactionStatus(context.WithoutCancel(ctx), txn.ID, transaction.StatusCancelled)
	if err != nil {
		b.logger.Error("fee paid but collection not updated and income not voided",
			"fee_collection_id", recordID,
			"transaction_id", txn.ID,
			"cause", cause,
			"error", err,
		)
		return
	}
	b.logger.Warn("fee collection not updated, income voided",
		"fee_collection_id", recordID,
		"transaction_id", txn.ID,
		"error", cause,
	)
}

// CancelFeeCollection cancels a collection. Cancelling a cancelled
// collection is a no-op. The income of a paid collection is cancelled in
// the ledger too.
func (b *Bursar) CancelFeeCollection(ctx context.Context, recordID string) (*feecollection.Record, error) {
	unlock, err := b.locker.Lock(ctx, collectionLockKey(recordID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := b.collections.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status == feecollection.StatusCancelled {
		return rec, nil
	}

	if rec.Status == feecollection.StatusPaid && rec.TransactionID != "" {
		if _, err := b.UpdateTransactionStatus(ctx, rec.TransactionID, transaction.StatusCancelled); err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	now := b.now()
	if err := b.collections.Update(ctx, recordID, store.Document{
		"status":    string(feecollection.StatusCancelled),
		"updatedAt": now,
	}); err != nil {
		return nil, err
	}
	rec.Status = feecollection.StatusCancelled
	rec.TouchAt(now)

	b.plugins.EmitFeeCancelled(ctx, rec)
	return rec, nil
}

// MarkOverdue moves pending collections due before now to overdue and
// returns how many moved. Each record is re-read under its lock, so one
// that was paid or cancelled since the sweep started stays as it is. A
// failed record does not stop the sweep.
func (b *Bursar) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	due, err := b.collections.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		errs  MultiError
		moved []string
	)
	for _, rec := range due {
		ok, err := b.markOverdue(ctx, rec.ID)
		if err != nil {
			errs.Add(fmt.Errorf("mark %s overdue: %w", rec.ID, err))
			continue
		}
		if ok {
			moved = append(moved, rec.ID)
		}
	}

	if len(moved) > 0 {
		b.logger.Info("fee collections overdue", "count", len(moved))
		b.plugins.EmitFeesOverdue(ctx, moved)
	}
	return len(moved), errs.ErrOrNil()
}

func (b *Bursar) markOverdue(ctx context.Context, recordID string) (bool, error) {
	unlock, err := b.locker.Lock(ctx, collectionLockKey(recordID))
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := b.collections.Get(ctx, recordID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if !rec.Status.CanTransition(feecollection.StatusOverdue) {
		b.logger.Debug("fee collection changed during overdue sweep",
			"fee_collection_id", recordID,
			"status", string(rec.Status),
		)
		return false, nil
	}

	if err := b.collections.Update(ctx, recordID, store.Document{
		"status":    string(feecollection.StatusOverdue),
		"updatedAt": b.now(),
	}); err != nil {
		return false, err
	}
	return true, nil
}

// FeeCollection returns one collection.
func (b *Bursar) FeeCollection(ctx context.Context, recordID string) (*feecollection.Record, error) {
	return b.collections.Get(ctx, recordID)
}

// FeeCollections lists collections.
func (b *Bursar) FeeCollections(ctx context.Context, f feecollection.Filter) ([]*feecollection.Record, error) {
	return b.collections.List(ctx, f)
}

// ownCurrency returns m in the engine currency. An amount without a
// currency takes it; one in another currency is rejected.
func (b *Bursar) ownCurrency(field string, m types.Money) (types.Money, error) {
	if m.Currency != "" && !strings.EqualFold(m.Currency, b.currency) {
		return m, ValidationError{Field: field, Message: "currency must be " + b.currency}
	}
	m.Currency = b.currency
	return m, nil
}

func collectionLockKey(recordID string) string { return "feecollection:" + recordID }
