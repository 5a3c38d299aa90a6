// Package types provides common types used across Bursar.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency used when a document carries bare numbers.
const DefaultCurrency = "bdt"

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only.
//
// Examples:
//   - BDT(20000) = ৳200.00 (20000 paisa)
//   - USD(4900) = $49.00 (4900 cents)
//
// The zero value has no currency and adopts the currency of the first
// value added to it, so totals can start from Money{}.
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (paisa, cents, ...)
	Currency string `json:"currency"` // ISO 4217 lowercase: "bdt", "usd"
}

// BDT creates a Money value in Bangladeshi Taka (paisa).
func BDT(paisa int64) Money { return Money{Amount: paisa, Currency: "bdt"} }

// INR creates a Money value in Indian Rupees (paise).
func INR(paise int64) Money { return Money{Amount: paise, Currency: "inr"} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// FromMajor converts an amount in major units (as stored in documents,
// e.g. 200 or 150.5) to Money, rounding half away from zero to the
// currency's minor unit.
func FromMajor(currency string, major float64) Money {
	return FromDecimal(currency, decimal.NewFromFloat(major))
}

// FromDecimal converts a major-unit decimal to Money.
func FromDecimal(currency string, major decimal.Decimal) Money {
	currency = strings.ToLower(currency)
	minor := major.Shift(int32(currencyDecimals(currency))).Round(0)
	return Money{Amount: minor.IntPart(), Currency: currency}
}

// ParseMajor parses a major-unit string such as "200" or "150.50".
func ParseMajor(currency, s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(currency, d), nil
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Major returns the amount in major units, the form stored in documents.
func (m Money) Major() float64 {
	return m.Decimal().InexactFloat64()
}

// Arithmetic operations

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m, other = m.align(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m, other = m.align(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// Formatting methods

// FormatMajor returns the major unit string without currency symbol,
// e.g. "200.00" for BDT(20000).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
// Examples: "৳200.00", "$49.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// Helper functions

// align lets a currency-less zero value take the other operand's currency
// and panics if two real currencies differ.
func (m Money) align(other Money) (Money, Money) {
	switch {
	case m.Currency == other.Currency:
	case m.Currency == "" && m.Amount == 0:
		m.Currency = other.Currency
	case other.Currency == "" && other.Amount == 0:
		other.Currency = m.Currency
	default:
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
	return m, other
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"bdt": "৳",
		"inr": "₹",
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd":
		return 0
	default:
		return 2
	}
}

// Sum calculates the sum of multiple Money values. All must have the same currency.
func Sum(values ...Money) Money {
	var result Money
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
