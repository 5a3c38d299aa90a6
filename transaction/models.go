// Package transaction models the financial ledger and its voucher numbers.
package transaction

import (
	"time"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Type is the direction of a ledger entry.
type Type string

const (
	TypeIncome  Type = "income"
	TypeExpense Type = "expense"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return t == TypeIncome || t == TypeExpense }

// Status is the settlement state of a ledger entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusRefunded, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether a status correction from s to next is
// allowed. Cancelled and refunded are final.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is one entry of the financial ledger. Apart from status
// corrections it is immutable once written.
type Transaction struct {
	types.Entity

	ID            string      `json:"id"`
	SchoolID      string      `json:"schoolId,omitempty"`
	Type          Type        `json:"type"`
	Amount        types.Money `json:"amount"`
	Date          time.Time   `json:"date"`
	VoucherNumber string      `json:"voucherNumber"`
	Status        Status      `json:"status"`
	StudentID     string      `json:"studentId,omitempty"`
	ClassID       string      `json:"classId,omitempty"`
	Category      string      `json:"category,omitempty"`
	Description   string      `json:"description,omitempty"`
}

// Year returns the calendar year that scopes the voucher number.
func (t *Transaction) Year() string {
	return t.Date.Format("2006")
}

// ToDocument renders the transaction with the financialTransactions field
// names. Amounts are written in major units.
func (t *Transaction) ToDocument() store.Document {
	doc := store.Document{
		"id":            t.ID,
		"type":          string(t.Type),
		"amount":        t.Amount.Major(),
		"date":          t.Date,
		"voucherNumber": t.VoucherNumber,
		"status":        string(t.Status),
		"createdAt":     t.CreatedAt,
		"updatedAt":     t.UpdatedAt,
	}
	optional := map[string]string{
		"schoolId":    t.SchoolID,
		"studentId":   t.StudentID,
		"classId":     t.ClassID,
		"category":    t.Category,
		"description": t.Description,
	}
	for k, v := range optional {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

// FromDocument reads a financialTransactions document. A missing status
// reads as pending.
func FromDocument(doc store.Document, currency string) *Transaction {
	status := Status(doc.String("status"))
	if status == "" {
		status = StatusPending
	}
	return &Transaction{
		Entity: types.Entity{
			CreatedAt: doc.Time("createdAt"),
			UpdatedAt: doc.Time("updatedAt"),
		},
		ID:            doc.ID(),
		SchoolID:      doc.String("schoolId"),
		Type:          Type(doc.String("type")),
		Amount:        types.FromMajor(currency, doc.Number("amount")),
		Date:          doc.Time("date"),
		VoucherNumber: doc.String("voucherNumber"),
		Status:        status,
		StudentID:     doc.String("studentId"),
		ClassID:       doc.String("classId"),
		Category:      doc.String("category"),
		Description:   doc.String("description"),
	}
}

// FromDocuments reads a list of documents.
func FromDocuments(docs []store.Document, currency string) []*Transaction {
	out := make([]*Transaction, len(docs))
	for i, doc := range docs {
		out[i] = FromDocument(doc, currency)
	}
	return out
}

// Filter narrows a ledger listing. Zero fields do not filter.
type Filter struct {
	SchoolID  string
	StudentID string
	Type      Type
	Status    Status
	// From is inclusive, To exclusive.
	From time.Time
	To   time.Time
	// Limit caps the result; 0 means no limit.
	Limit int
}

// Query translates the filter into a Record Store query ordered by date.
func (f Filter) Query() store.Query {
	q := store.Query{}
	if f.SchoolID != "" {
		q = q.Eq("schoolId", f.SchoolID)
	}
	if f.StudentID != "" {
		q = q.Eq("studentId", f.StudentID)
	}
	if f.Type != "" {
		q = q.Eq("type", string(f.Type))
	}
	if f.Status != "" {
		q = q.Eq("status", string(f.Status))
	}
	if !f.From.IsZero() {
		q = q.Where("date", store.OpGte, f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date", store.OpLt, f.To)
	}
	q = q.Order("date", false)
	if f.Limit > 0 {
		q = q.WithLimit(f.Limit)
	}
	return q
}
