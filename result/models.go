// Package result models exam marks: grading, the one-record-per-key
// ledger and merit ranking.
package result

import (
	"strings"
	"time"

	"github.com/xraph/bursar/store"
)

// Status is the pass/fail outcome of one subject.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Key is the identity of a result: one student, one exam, one subject.
type Key struct {
	StudentID string
	ExamID    string
	Subject   string
}

// String renders the key for logs and lock names.
func (k Key) String() string {
	return k.ExamID + "/" + k.StudentID + "/" + k.Subject
}

// Query selects the records stored under the key.
func (k Key) Query() store.Query {
	return store.Query{}.
		Eq("studentId", k.StudentID).
		Eq("examId", k.ExamID).
		Eq("subject", k.Subject)
}

// Entry is one mark as entered by school staff or an import.
type Entry struct {
	StudentID     string  `json:"studentId"`
	ExamID        string  `json:"examId"`
	Subject       string  `json:"subject"`
	ObtainedMarks float64 `json:"obtainedMarks"`
	TotalMarks    float64 `json:"totalMarks"`
	IsAbsent      bool    `json:"isAbsent"`
	ClassName     string  `json:"className,omitempty"`
	SchoolID      string  `json:"schoolId,omitempty"`
}

// Key returns the identity of the entry. Surrounding blanks are ignored.
func (e Entry) Key() Key {
	return Key{
		StudentID: strings.TrimSpace(e.StudentID),
		ExamID:    strings.TrimSpace(e.ExamID),
		Subject:   strings.TrimSpace(e.Subject),
	}
}

// Record is the stored result of one subject for one student.
type Record struct {
	ID            string    `json:"id"`
	ExamID        string    `json:"examId"`
	StudentID     string    `json:"studentId"`
	Subject       string    `json:"subject"`
	ClassName     string    `json:"className,omitempty"`
	SchoolID      string    `json:"schoolId,omitempty"`
	ObtainedMarks float64   `json:"obtainedMarks"`
	TotalMarks    float64   `json:"totalMarks"`
	Percentage    float64   `json:"percentage"`
	Grade         string    `json:"grade"`
	Status        Status    `json:"status"`
	IsAbsent      bool      `json:"isAbsent"`
	Position      *int      `json:"position,omitempty"`
	EnteredAt     time.Time `json:"enteredAt"`
}

// Key returns the identity of the record.
func (r *Record) Key() Key {
	return Key{StudentID: r.StudentID, ExamID: r.ExamID, Subject: r.Subject}
}

// Apply scores entry onto the record and stamps it with at. Identity
// fields are left alone and the position is cleared.
func (r *Record) Apply(entry Entry, at time.Time) {
	score := Evaluate(entry)
	r.ObtainedMarks = score.Obtained
	r.TotalMarks = entry.TotalMarks
	r.Percentage = score.Percentage
	r.Grade = score.Grade
	r.Status = score.Status
	r.IsAbsent = entry.IsAbsent
	r.Position = nil
	r.EnteredAt = at
	if entry.ClassName != "" {
		r.ClassName = entry.ClassName
	}
	if entry.SchoolID != "" {
		r.SchoolID = entry.SchoolID
	}
}

// NewRecord creates a record for entry.
func NewRecord(recordID string, entry Entry, at time.Time) *Record {
	key := entry.Key()
	r := &Record{
		ID:        recordID,
		ExamID:    key.ExamID,
		StudentID: key.StudentID,
		Subject:   key.Subject,
	}
	r.Apply(entry, at)
	return r
}

// ScorePatch is the update written when an existing record is
// overwritten. It removes a stale position.
func (r *Record) ScorePatch() store.Document {
	patch := store.Document{
		"obtainedMarks": r.ObtainedMarks,
		"totalMarks":    r.TotalMarks,
		"percentage":    r.Percentage,
		"grade":         r.Grade,
		"status":        string(r.Status),
		"isAbsent":      r.IsAbsent,
		"enteredAt":     r.EnteredAt,
		"position":      nil,
	}
	if r.ClassName != "" {
		patch["className"] = r.ClassName
	}
	if r.SchoolID != "" {
		patch["schoolId"] = r.SchoolID
	}
	return patch
}

// ToDocument renders the record with the examResults field names.
func (r *Record) ToDocument() store.Document {
	doc := store.Document{
		"id":            r.ID,
		"examId":        r.ExamID,
		"studentId":     r.StudentID,
		"subject":       r.Subject,
		"obtainedMarks": r.ObtainedMarks,
		"totalMarks":    r.TotalMarks,
		"percentage":    r.Percentage,
		"grade":         r.Grade,
		"status":        string(r.Status),
		"isAbsent":      r.IsAbsent,
		"enteredAt":     r.EnteredAt,
	}
	if r.ClassName != "" {
		doc["className"] = r.ClassName
	}
	if r.SchoolID != "" {
		doc["schoolId"] = r.SchoolID
	}
	if r.Position != nil {
		doc["position"] = *r.Position
	}
	return doc
}

// FromDocument reads an examResults document. Records written without a
// status derive it from the stored percentage.
func FromDocument(doc store.Document) *Record {
	r := &Record{
		ID:            doc.ID(),
		ExamID:        doc.String("examId"),
		StudentID:     doc.String("studentId"),
		Subject:       doc.String("subject"),
		ClassName:     doc.String("className"),
		SchoolID:      doc.String("schoolId"),
		ObtainedMarks: doc.Number("obtainedMarks"),
		TotalMarks:    doc.Number("totalMarks"),
		Percentage:    doc.Number("percentage"),
		Grade:         doc.String("grade"),
		Status:        Status(doc.String("status")),
		IsAbsent:      doc.Bool("isAbsent", false),
		EnteredAt:     doc.Time("enteredAt"),
	}
	if doc.Has("position") {
		p := int(doc.Int("position"))
		r.Position = &p
	}
	if r.Status == "" {
		r.Status = StatusFail
		if !r.IsAbsent && Passed(r.Percentage) {
			r.Status = StatusPass
		}
	}
	return r
}

// FromDocuments reads a list of documents.
func FromDocuments(docs []store.Document) []*Record {
	out := make([]*Record, len(docs))
	for i, doc := range docs {
		out[i] = FromDocument(doc)
	}
	return out
}
