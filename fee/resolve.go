package fee

import (
	"strings"

	"github.com/xraph/bursar/types"
)

// AllClasses is the ClassWise key for a base fee that applies to every
// class (a definition with no applicable classes).
const AllClasses = "*"

// Table maps a fee kind to per-class amounts. One Table is one generation
// of a school's exam fee configuration.
type Table map[Kind]map[string]types.Money

// Lookup returns the amount configured for kind and className and whether
// a cell exists at all. A present zero cell is reported as found.
func (t Table) Lookup(kind Kind, className string) (types.Money, bool) {
	classes, ok := t[kind]
	if !ok {
		return types.Money{}, false
	}
	amount, ok := classes[className]
	return amount, ok
}

// Set writes one cell, creating the kind row when needed.
func (t Table) Set(kind Kind, className string, amount types.Money) {
	if t[kind] == nil {
		t[kind] = make(map[string]types.Money)
	}
	t[kind][className] = amount
}

// Sources are the three fee sources a resolution consults, in precedence
// order. They are loaded by the caller; Resolve performs no reads.
type Sources struct {
	Management Table
	Legacy     Table
	// ClassWise holds base fees by class name, plus the AllClasses entry.
	ClassWise map[string]types.Money
}

// Tier names the source a resolution was answered from.
type Tier string

// Resolution tiers in precedence order.
const (
	TierManagement Tier = "management"
	TierLegacy     Tier = "legacy"
	TierClassWise  Tier = "class_wise"
	TierAllClasses Tier = "all_classes"
	TierDefault    Tier = "default"
)

// Resolution is the outcome of a fee lookup.
type Resolution struct {
	Kind      Kind
	ClassName string
	Amount    types.Money
	Tier      Tier
}

// Resolve returns the effective fee for kind and className. The first
// positive amount wins, in order: management table, legacy table,
// class-wise base fee, all-classes base fee. When none is positive the
// fallback is returned. A zero amount counts as not configured.
func Resolve(kind Kind, className string, src Sources, fallback types.Money) types.Money {
	return Explain(kind, className, src, fallback).Amount
}

// Explain is Resolve that also reports which tier answered.
func Explain(kind Kind, className string, src Sources, fallback types.Money) Resolution {
	className = strings.TrimSpace(className)
	res := Resolution{Kind: kind, ClassName: className}

	if amount, ok := src.Management.Lookup(kind, className); ok && amount.IsPositive() {
		res.Amount, res.Tier = amount, TierManagement
		return res
	}
	if amount, ok := src.Legacy.Lookup(kind, className); ok && amount.IsPositive() {
		res.Amount, res.Tier = amount, TierLegacy
		return res
	}
	if amount := src.ClassWise[className]; amount.IsPositive() {
		res.Amount, res.Tier = amount, TierClassWise
		return res
	}
	if amount := src.ClassWise[AllClasses]; amount.IsPositive() {
		res.Amount, res.Tier = amount, TierAllClasses
		return res
	}

	res.Amount, res.Tier = fallback, TierDefault
	return res
}
