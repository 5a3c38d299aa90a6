// Package feecollection models what a student owes and has paid against
// one fee.
package feecollection

import (
	"time"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Status is the payment state of a fee collection.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next. Only
// pending→paid, pending→overdue and any→cancelled exist; nothing moves
// back, and an overdue record cannot be paid.
func (s Status) CanTransition(next Status) bool {
	switch next {
	case StatusCancelled:
		return s != StatusCancelled
	case StatusPaid, StatusOverdue:
		return s == StatusPending
	default:
		return false
	}
}

// Record is one student's fee collection.
//
// TotalAmount always equals Amount + LateFee: it is recomputed on every
// read and written together with its parts.
type Record struct {
	types.Entity

	ID            string      `json:"id"`
	FeeRef        string      `json:"feeRef"`
	StudentID     string      `json:"studentId"`
	ClassName     string      `json:"className"`
	SchoolID      string      `json:"schoolId,omitempty"`
	ExamID        string      `json:"examId,omitempty"`
	FeeKind       string      `json:"feeKind,omitempty"`
	Amount        types.Money `json:"amount"`
	LateFee       types.Money `json:"lateFee"`
	TotalAmount   types.Money `json:"totalAmount"`
	Status        Status      `json:"status"`
	PaymentDate   *time.Time  `json:"paymentDate,omitempty"`
	DueDate       time.Time   `json:"dueDate"`
	TransactionID string      `json:"transactionId,omitempty"`
}

// Recompute restores TotalAmount = Amount + LateFee.
func (r *Record) Recompute() {
	r.TotalAmount = r.Amount.Add(r.LateFee)
}

// SetLateFee replaces the late fee and recomputes the total.
func (r *Record) SetLateFee(fee types.Money) {
	r.LateFee = fee
	r.Recompute()
}

// IsDue reports whether a pending record's due date has passed at now.
func (r *Record) IsDue(now time.Time) bool {
	return r.Status == StatusPending && !r.DueDate.IsZero() && r.DueDate.Before(now)
}

// AmountPatch is the update that writes the money fields together.
func (r *Record) AmountPatch() store.Document {
	r.Recompute()
	return store.Document{
		"amount":      r.Amount.Major(),
		"lateFee":     r.LateFee.Major(),
		"totalAmount": r.TotalAmount.Major(),
	}
}

// ToDocument renders the record with the feeCollections field names.
func (r *Record) ToDocument() store.Document {
	r.Recompute()
	doc := store.Document{
		"id":          r.ID,
		"feeRef":      r.FeeRef,
		"studentId":   r.StudentID,
		"className":   r.ClassName,
		"amount":      r.Amount.Major(),
		"lateFee":     r.LateFee.Major(),
		"totalAmount": r.TotalAmount.Major(),
		"status":      string(r.Status),
		"dueDate":     r.DueDate,
		"createdAt":   r.CreatedAt,
		"updatedAt":   r.UpdatedAt,
	}
	if r.PaymentDate != nil {
		doc["paymentDate"] = *r.PaymentDate
	}
	optional := map[string]string{
		"schoolId":      r.SchoolID,
		"examId":        r.ExamID,
		"feeKind":       r.FeeKind,
		"transactionId": r.TransactionID,
	}
	for k, v := range optional {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

// FromDocument reads a feeCollections document. Missing fields default to
// status pending and a zero late fee; the stored totalAmount is ignored in
// favour of amount + lateFee.
func FromDocument(doc store.Document, currency string) *Record {
	status := Status(doc.String("status"))
	if status == "" {
		status = StatusPending
	}
	r := &Record{
		Entity: types.Entity{
			CreatedAt: doc.Time("createdAt"),
			UpdatedAt: doc.Time("updatedAt"),
		},
		ID:            doc.ID(),
		FeeRef:        doc.String("feeRef"),
		StudentID:     doc.String("studentId"),
		ClassName:     doc.String("className"),
		SchoolID:      doc.String("schoolId"),
		ExamID:        doc.String("examId"),
		FeeKind:       doc.String("feeKind"),
		Amount:        types.FromMajor(currency, doc.Number("amount")),
		LateFee:       types.FromMajor(currency, doc.Number("lateFee")),
		Status:        status,
		DueDate:       doc.Time("dueDate"),
		TransactionID: doc.String("transactionId"),
	}
	if doc.Has("paymentDate") {
		if paid := doc.Time("paymentDate"); !paid.IsZero() {
			r.PaymentDate = &paid
		}
	}
	r.Recompute()
	return r
}

// FromDocuments reads a list of documents.
func FromDocuments(docs []store.Document, currency string) []*Record {
	out := make([]*Record, len(docs))
	for i, doc := range docs {
		out[i] = FromDocument(doc, currency)
	}
	return out
}

// Filter narrows a listing. Zero fields do not filter.
type Filter struct {
	SchoolID  string
	ClassName string
	StudentID string
	ExamID    string
	Status    Status
}

// Query translates the filter into a Record Store query ordered by due
// date.
func (f Filter) Query() store.Query {
	q := store.Query{}
	if f.SchoolID != "" {
		q = q.Eq("schoolId", f.SchoolID)
	}
	if f.ClassName != "" {
		q = q.Eq("className", f.ClassName)
	}
	if f.StudentID != "" {
		q = q.Eq("studentId", f.StudentID)
	}
	if f.ExamID != "" {
		q = q.Eq("examId", f.ExamID)
	}
	if f.Status != "" {
		q = q.Eq("status", string(f.Status))
	}
	return q.Order("dueDate", false)
}
