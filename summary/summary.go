// Package summary derives financial and per-class collection summaries.
// Summaries are always recomputed from a full set of records; nothing is
// accumulated incrementally.
package summary

import (
	"sort"

	"github.com/xraph/bursar/feecollection"
	"github.com/xraph/bursar/transaction"
	"github.com/xraph/bursar/types"
)

// Financial is the summary of a set of ledger entries.
type Financial struct {
	TotalIncome      types.Money `json:"totalIncome"`
	TotalExpense     types.Money `json:"totalExpense"`
	NetAmount        types.Money `json:"netAmount"`
	PendingIncome    types.Money `json:"pendingIncome"`
	PendingExpense   types.Money `json:"pendingExpense"`
	TransactionCount int         `json:"transactionCount"`
}

// Summarize totals txns. Completed entries count as realized, pending ones
// as pending; cancelled and refunded entries only add to the count. The net
// amount is derived from the realized totals.
func Summarize(txns []*transaction.Transaction) Financial {
	var f Financial
	for _, t := range txns {
		switch {
		case t.Status == transaction.StatusCompleted && t.Type == transaction.TypeIncome:
			f.TotalIncome = f.TotalIncome.Add(t.Amount)
		case t.Status == transaction.StatusCompleted && t.Type == transaction.TypeExpense:
			f.TotalExpense = f.TotalExpense.Add(t.Amount)
		case t.Status == transaction.StatusPending && t.Type == transaction.TypeIncome:
			f.PendingIncome = f.PendingIncome.Add(t.Amount)
		case t.Status == transaction.StatusPending && t.Type == transaction.TypeExpense:
			f.PendingExpense = f.PendingExpense.Add(t.Amount)
		}
	}
	f.NetAmount = f.TotalIncome.Subtract(f.TotalExpense)
	f.TransactionCount = len(txns)
	return f
}

// In gives every amount that has no currency yet the given currency, so
// an empty summary still renders as money.
func (f Financial) In(currency string) Financial {
	for _, m := range []*types.Money{&f.TotalIncome, &f.TotalExpense, &f.NetAmount, &f.PendingIncome, &f.PendingExpense} {
		if m.Currency == "" {
			m.Currency = currency
		}
	}
	return f
}

// ClassFeeSummary is the collection status of one class.
type ClassFeeSummary struct {
	ClassName     string      `json:"className"`
	TotalStudents int         `json:"totalStudents"`
	PaidStudents  int         `json:"paidStudents"`
	TotalPaid     types.Money `json:"totalPaid"`
	TotalDue      types.Money `json:"totalDue"`
}

// SummarizeClasses groups records by class. Paid records add their total
// to TotalPaid and their student to PaidStudents; pending and overdue
// records add to TotalDue. Cancelled records are ignored. Students are
// counted once per class however many records they have.
func SummarizeClasses(records []*feecollection.Record) map[string]ClassFeeSummary {
	type acc struct {
		sum      ClassFeeSummary
		students map[string]struct{}
		paid     map[string]struct{}
	}
	groups := make(map[string]*acc)

	for _, r := range records {
		if r.Status == feecollection.StatusCancelled {
			continue
		}
		a, ok := groups[r.ClassName]
		if !ok {
			a = &acc{
				sum:      ClassFeeSummary{ClassName: r.ClassName},
				students: make(map[string]struct{}),
				paid:     make(map[string]struct{}),
			}
			groups[r.ClassName] = a
		}
		a.students[r.StudentID] = struct{}{}

		total := r.Amount.Add(r.LateFee)
		if r.Status == feecollection.StatusPaid {
			a.sum.TotalPaid = a.sum.TotalPaid.Add(total)
			a.paid[r.StudentID] = struct{}{}
			continue
		}
		a.sum.TotalDue = a.sum.TotalDue.Add(total)
	}

	out := make(map[string]ClassFeeSummary, len(groups))
	for name, a := range groups {
		a.sum.TotalStudents = len(a.students)
		a.sum.PaidStudents = len(a.paid)
		out[name] = a.sum
	}
	return out
}

// ClassNames returns the keys of a class summary in order.
func ClassNames(m map[string]ClassFeeSummary) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
