package result

import (
	"math"

	"github.com/shopspring/decimal"
)

// PassMark is the lowest passing percentage.
const PassMark = 40

var hundred = decimal.NewFromInt(100)

// grades lists the lower bound of every grade, highest first. Bounds are
// inclusive and the table is contiguous down to 0.
var grades = []struct {
	min   decimal.Decimal
	grade string
}{
	{decimal.NewFromInt(90), "A+"},
	{decimal.NewFromInt(80), "A"},
	{decimal.NewFromInt(70), "B+"},
	{decimal.NewFromInt(60), "B"},
	{decimal.NewFromInt(50), "C+"},
	{decimal.NewFromInt(40), "C"},
	{decimal.NewFromInt(33), "D"},
}

// FailGrade is the grade below every bound, and the grade of an absence.
const FailGrade = "F"

// Percentage returns obtained/total*100 as an exact decimal. A
// non-positive or non-finite input yields zero.
func Percentage(obtained, total float64) decimal.Decimal {
	if !Finite(obtained) || !Finite(total) || total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(obtained).Mul(hundred).Div(decimal.NewFromFloat(total))
}

// Finite reports whether a mark is a real number.
func Finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// GradeFor maps a percentage to its letter grade.
func GradeFor(pct decimal.Decimal) string {
	for _, g := range grades {
		if pct.GreaterThanOrEqual(g.min) {
			return g.grade
		}
	}
	return FailGrade
}

// Passed reports whether a stored percentage passes.
func Passed(pct float64) bool { return pct >= PassMark }

// Score is the graded outcome of an entry.
type Score struct {
	Obtained float64
	// Percentage is rounded to two places for storage; Grade and Status
	// are decided on the exact value.
	Percentage float64
	Grade      string
	Status     Status
}

// Evaluate grades an entry. An absence scores zero and fails, whatever
// marks were entered.
func Evaluate(e Entry) Score {
	if e.IsAbsent {
		return Score{Grade: FailGrade, Status: StatusFail}
	}
	exact := Percentage(e.ObtainedMarks, e.TotalMarks)
	status := StatusFail
	if exact.GreaterThanOrEqual(decimal.NewFromInt(PassMark)) {
		status = StatusPass
	}
	return Score{
		Obtained:   e.ObtainedMarks,
		Percentage: exact.Round(2).InexactFloat64(),
		Grade:      GradeFor(exact),
		Status:     status,
	}
}
