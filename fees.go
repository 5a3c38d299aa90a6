package bursar

import (
	"context"
	"strings"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Fee Resolution
// ──────────────────────────────────────────────────

// LoadFeeSources reads the fee sources of one school for kind: the
// management and legacy exam fee tables and the active base fee
// definitions. A school without an exam fee document has empty tables.
func (b *Bursar) LoadFeeSources(ctx context.Context, schoolID string, kind fee.Kind) (fee.Sources, error) {
	kind = fee.ParseKind(string(kind))

	management, legacy, err := b.fees.Tables(ctx, schoolID)
	if err != nil {
		return fee.Sources{}, err
	}
	defs, err := b.fees.Definitions(ctx, schoolID, kind)
	if err != nil {
		return fee.Sources{}, err
	}

	return fee.Sources{
		Management: management,
		Legacy:     legacy,
		ClassWise:  fee.BaseFees(defs, kind),
	}, nil
}

// ResolveFee returns the effective fee for kind and className in one
// school. An unconfigured fee resolves to the default fee, never to an
// error.
func (b *Bursar) ResolveFee(ctx context.Context, schoolID string, kind fee.Kind, className string) (types.Money, error) {
	res, err := b.ExplainFee(ctx, schoolID, kind, className)
	if err != nil {
		return types.Money{}, err
	}
	return res.Amount, nil
}

// ExplainFee is ResolveFee that also reports which source answered.
func (b *Bursar) ExplainFee(ctx context.Context, schoolID string, kind fee.Kind, className string) (fee.Resolution, error) {
	kind = fee.ParseKind(string(kind))

	src, err := b.LoadFeeSources(ctx, schoolID, kind)
	if err != nil {
		return fee.Resolution{}, err
	}

	res := fee.Explain(kind, className, src, b.defaultFee)
	if res.Tier == fee.TierDefault {
		b.logger.Debug("fee not configured, using default",
			"school_id", schoolID,
			"fee_kind", string(kind),
			"class_name", className,
			"amount", res.Amount.String(),
		)
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Fee Configuration
// ──────────────────────────────────────────────────

// SaveFeeDefinition validates and upserts a fee definition. A definition
// without an id gets one.
func (b *Bursar) SaveFeeDefinition(ctx context.Context, def *fee.Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return ValidationError{Field: "name", Message: "must not be empty"}
	}
	if string(def.Kind) == "" {
		return ValidationError{Field: "feeKind", Message: "must not be empty"}
	}
	if def.Amount.IsNegative() {
		return ValidationError{Field: "amount", Message: "must not be negative"}
	}
	def.Kind = fee.ParseKind(string(def.Kind))
	if def.Amount.Currency == "" {
		def.Amount.Currency = b.currency
	}

	now := b.now()
	if def.ID == "" {
		def.ID = id.NewFeeID().String()
	}
	if def.CreatedAt.IsZero() {
		def.Entity = types.NewEntityAt(now)
	} else {
		def.TouchAt(now)
	}

	if err := b.fees.Put(ctx, def); err != nil {
		return err
	}

	if !def.Kind.Known() {
		b.logger.Debug("fee definition uses a custom kind", "fee_id", def.ID, "fee_kind", string(def.Kind))
	}
	b.plugins.EmitFeeDefinitionSaved(ctx, def)
	return nil
}

// DeactivateFeeDefinition marks a definition inactive. Inactive
// definitions no longer feed fee resolution.
func (b *Bursar) DeactivateFeeDefinition(ctx context.Context, defID string) error {
	def, err := b.fees.Get(ctx, defID)
	if err != nil {
		return err
	}

	now := b.now()
	if err := b.fees.SetActive(ctx, defID, false, map[string]any{"updatedAt": now}); err != nil {
		return err
	}
	def.IsActive = false
	def.TouchAt(now)

	b.plugins.EmitFeeDefinitionSaved(ctx, def)
	return nil
}

// SetExamFee writes one cell of a school's management or legacy exam fee
// table. A zero amount leaves the cell present but unconfigured. Writes to
// one school's tables are serialized.
func (b *Bursar) SetExamFee(ctx context.Context, schoolID string, gen fee.Generation, kind fee.Kind, className string, amount types.Money) error {
	className = strings.TrimSpace(className)
	switch {
	case schoolID == "":
		return ValidationError{Field: "schoolId", Message: "must not be empty"}
	case className == "":
		return ValidationError{Field: "className", Message: "must not be empty"}
	case gen != fee.GenerationManagement && gen != fee.GenerationLegacy:
		return ValidationError{Field: "generation", Message: "must be management or legacy"}
	case amount.IsNegative():
		return ValidationError{Field: "amount", Message: "must not be negative"}
	}
	amount, err := b.ownCurrency("amount", amount)
	if err != nil {
		return err
	}
	kind = fee.ParseKind(string(kind))

	unlock, err := b.locker.Lock(ctx, examFeesLockKey(schoolID))
	if err != nil {
		return err
	}
	defer unlock()

	current, err := b.fees.ExamFeeDocument(ctx, schoolID)
	if err != nil {
		return err
	}
	patch := fee.CellPatch(gen, current, kind, className, amount)
	patch["updatedAt"] = b.now()

	if err := b.fees.PatchExamFees(ctx, schoolID, current, patch); err != nil {
		return err
	}

	b.logger.Debug("exam fee set",
		"school_id", schoolID,
		"generation", string(gen),
		"fee_kind", string(kind),
		"class_name", className,
		"amount", amount.String(),
	)
	return nil
}

func examFeesLockKey(schoolID string) string { return "examfees:" + schoolID }
