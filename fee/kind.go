package fee

import "strings"

// Kind is a category of charge. The canonical short form is used in code;
// the field name form is what the school application writes into the
// examFees documents.
type Kind string

// Known fee kinds.
const (
	KindMonthlyExam    Kind = "monthly"
	KindQuarterlyExam  Kind = "quarterly"
	KindHalfYearlyExam Kind = "half-yearly"
	KindAnnualExam     Kind = "annual"
	KindTuition        Kind = "tuition"
	KindAdmission      Kind = "admission"
)

var fieldNames = map[Kind]string{
	KindMonthlyExam:    "Monthly Examination Fee",
	KindQuarterlyExam:  "Quarterly Examination Fee",
	KindHalfYearlyExam: "Half Yearly Examination Fee",
	KindAnnualExam:     "Annual Examination Fee",
	KindTuition:        "Monthly Tuition Fee",
	KindAdmission:      "Admission Fee",
}

// FieldName returns the document field name for the kind. Unknown kinds
// are their own field name.
func (k Kind) FieldName() string {
	if name, ok := fieldNames[k]; ok {
		return name
	}
	return string(k)
}

// Known reports whether k is one of the predefined kinds.
func (k Kind) Known() bool {
	_, ok := fieldNames[k]
	return ok
}

// ParseKind accepts a short name ("monthly"), a field name
// ("Monthly Examination Fee") or a free-form kind, case-insensitively for
// the known ones.
func ParseKind(s string) Kind {
	s = strings.TrimSpace(s)
	for kind, field := range fieldNames {
		if strings.EqualFold(s, string(kind)) || strings.EqualFold(s, field) {
			return kind
		}
	}
	return Kind(s)
}
