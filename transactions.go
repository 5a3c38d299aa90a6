package bursar

import (
	"context"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/transaction"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Vouchers
// ──────────────────────────────────────────────────

// NextVoucher returns the next voucher number of year. It never fails: when
// the ledger cannot be scanned a time-based token is returned instead.
func (b *Bursar) NextVoucher(ctx context.Context, year string) string {
	v, _ := b.nextVoucher(ctx, year) //nolint:errcheck // the fallback cause is already logged
	return v
}

// nextVoucher returns a voucher and, when the token is a fallback, the
// reason.
func (b *Bursar) nextVoucher(ctx context.Context, year string) (string, error) {
	existing, err := b.txns.Vouchers(ctx, year)
	if err != nil {
		token := transaction.FallbackVoucher(b.now())
		b.logger.Warn("voucher scan failed, using fallback token",
			"year", year,
			"voucher", token,
			"error", err,
		)
		b.plugins.EmitVoucherFallback(ctx, year, token, err)
		return token, err
	}

	floor := transaction.MaxSequence(year, existing) + 1
	if b.sequencer == nil {
		return transaction.FormatVoucher(year, floor), nil
	}

	seq, err := b.sequencer.NextSequence(ctx, transaction.SequenceName(year), floor)
	if err != nil {
		b.logger.Warn("voucher sequencer failed, using scanned sequence",
			"year", year,
			"sequence", floor,
			"error", err,
		)
		return transaction.FormatVoucher(year, floor), nil
	}
	return transaction.FormatVoucher(year, seq), nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// RecordTransaction writes a ledger entry with a fresh voucher number and
// fills in txn's id, voucher and timestamps.
//
// After the write the voucher is checked for duplicates. A writer that
// finds its voucher shared renumbers its own entry, up to the configured
// retries, then takes a fallback token. Collisions are logged and emitted
// to plugins; they never fail the call.
func (b *Bursar) RecordTransaction(ctx context.Context, txn *transaction.Transaction) error {
	if err := b.validateTransaction(txn); err != nil {
		return err
	}

	now := b.now()
	if txn.ID == "" {
		txn.ID = id.NewTransactionID().String()
	}
	if txn.Date.IsZero() {
		txn.Date = now
	}
	if txn.Status == "" {
		txn.Status = transaction.StatusPending
	}
	txn.Entity = types.NewEntityAt(now)

	year := txn.Year()
	if txn.VoucherNumber == "" {
		txn.VoucherNumber, _ = b.nextVoucher(ctx, year) //nolint:errcheck // fallback already reported
	}

	if err := b.txns.Put(ctx, txn); err != nil {
		return err
	}

	if err := b.ensureUniqueVoucher(ctx, txn); err != nil {
		return err
	}

	b.logger.Debug("transaction recorded",
		"transaction_id", txn.ID,
		"voucher", txn.VoucherNumber,
		"type", string(txn.Type),
		"amount", txn.Amount.String(),
	)
	b.plugins.EmitTransactionRecorded(ctx, txn)
	return nil
}

// ensureUniqueVoucher renumbers txn until no other entry shares its
// voucher. Only store failures while renumbering are returned.
func (b *Bursar) ensureUniqueVoucher(ctx context.Context, txn *transaction.Transaction) error {
	year := txn.Year()

	for attempt := 1; ; attempt++ {
		if transaction.IsFallback(txn.VoucherNumber) {
			return nil
		}

		holders, err := b.txns.ByVoucher(ctx, txn.VoucherNumber)
		if err != nil {
			b.logger.Warn("voucher uniqueness check failed",
				"transaction_id", txn.ID,
				"voucher", txn.VoucherNumber,
				"error", err,
			)
			return nil
		}
		if !shared(txn.ID, holders) {
			return nil
		}

		b.logger.Warn("voucher collision, renumbering",
			"transaction_id", txn.ID,
			"voucher", txn.VoucherNumber,
			"attempt", attempt,
			"error", ErrSequencingRace,
		)
		b.plugins.EmitSequencingRace(ctx, txn.VoucherNumber, txn.ID, attempt)

		var next string
		if attempt > b.voucherRetries {
			next = transaction.FallbackVoucher(b.now())
			b.plugins.EmitVoucherFallback(ctx, year, next, ErrSequencingRace)
		} else {
			next, _ = b.nextVoucher(ctx, year) //nolint:errcheck // fallback already reported
		}

		now := b.now()
		if err := b.txns.Update(ctx, txn.ID, store.Document{
			"voucherNumber": next,
			"updatedAt":     now,
		}); err != nil {
			return err
		}
		txn.VoucherNumber = next
		txn.TouchAt(now)
	}
}

// shared reports whether any entry other than txnID holds the voucher.
func shared(txnID string, holders []*transaction.Transaction) bool {
	for _, h := range holders {
		if h.ID != txnID {
			return true
		}
	}
	return false
}

func (b *Bursar) validateTransaction(txn *transaction.Transaction) error {
	var errs MultiError
	if !txn.Type.Valid() {
		errs.Add(ValidationError{Field: "type", Message: "must be income or expense"})
	}
	if !txn.Amount.IsPositive() {
		errs.Add(ValidationError{Field: "amount", Message: "must be positive"})
	}
	if txn.Status != "" && !txn.Status.Valid() {
		errs.Add(ValidationError{Field: "status", Message: "unknown status " + string(txn.Status)})
	}
	amount, err := b.ownCurrency("amount", txn.Amount)
	if err != nil {
		errs.Add(err)
	} else {
		txn.Amount = amount
	}
	return errs.ErrOrNil()
}

// Transaction returns one ledger entry.
func (b *Bursar) Transaction(ctx context.Context, txnID string) (*transaction.Transaction, error) {
	return b.txns.Get(ctx, txnID)
}

// Transactions lists ledger entries.
func (b *Bursar) Transactions(ctx context.Context, f transaction.Filter) ([]*transaction.Transaction, error) {
	return b.txns.List(ctx, f)
}

// UpdateTransactionStatus applies a status correction. Setting the current
// status again is a no-op.
func (b *Bursar) UpdateTransactionStatus(ctx context.Context, txnID string, status transaction.Status) (*transaction.Transaction, error) {
	if !status.Valid() {
		return nil, ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}

	txn, err := b.txns.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status == status {
		return txn, nil
	}
	if !txn.Status.CanTransition(status) {
		return nil, &TransitionError{
			Resource: "transaction",
			ID:       txnID,
			From:     string(txn.Status),
			To:       string(status),
		}
	}

	now := b.now()
	if err := b.txns.Update(ctx, txnID, store.Document{
		"status":    string(status),
		"updatedAt": now,
	}); err != nil {
		return nil, err
	}

	from := txn.Status
	txn.Status = status
	txn.TouchAt(now)

	b.plugins.EmitTransactionStatusChanged(ctx, txn, from)
	return txn, nil
}
