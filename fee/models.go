// Package fee models fee definitions and exam fee tables and resolves the
// effective fee for a class.
package fee

import (
	"sort"
	"strings"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Definition is a named recurring or one-time charge, stored in the fees
// collection.
type Definition struct {
	types.Entity

	ID                string      `json:"id"`
	SchoolID          string      `json:"schoolId,omitempty"`
	Name              string      `json:"name"`
	Amount            types.Money `json:"amount"`
	Kind              Kind        `json:"feeKind"`
	ApplicableClasses []string    `json:"applicableClasses"`
	IsActive          bool        `json:"isActive"`
}

// ToDocument renders the definition with the fees collection field names.
func (d *Definition) ToDocument() store.Document {
	classes := make([]any, len(d.ApplicableClasses))
	for i, c := range d.ApplicableClasses {
		classes[i] = c
	}
	doc := store.Document{
		"id":                d.ID,
		"name":              d.Name,
		"amount":            d.Amount.Major(),
		"feeKind":           string(d.Kind),
		"applicableClasses": classes,
		"isActive":          d.IsActive,
		"createdAt":         d.CreatedAt,
		"updatedAt":         d.UpdatedAt,
	}
	if d.SchoolID != "" {
		doc["schoolId"] = d.SchoolID
	}
	return doc
}

// DefinitionFromDocument reads a fees document. A missing isActive means
// active.
func DefinitionFromDocument(doc store.Document, currency string) *Definition {
	return &Definition{
		Entity: types.Entity{
			CreatedAt: doc.Time("createdAt"),
			UpdatedAt: doc.Time("updatedAt"),
		},
		ID:                doc.ID(),
		SchoolID:          doc.String("schoolId"),
		Name:              doc.String("name"),
		Amount:            types.FromMajor(currency, doc.Number("amount")),
		Kind:              ParseKind(doc.String("feeKind")),
		ApplicableClasses: doc.Strings("applicableClasses"),
		IsActive:          doc.Bool("isActive", true),
	}
}

// BaseFees builds the class-wise source for one kind from fee
// definitions. Inactive definitions and other kinds are ignored. A
// class-specific definition fills that class; a definition without classes
// fills AllClasses. Among competing definitions the most recently updated
// one wins, then the smallest id.
func BaseFees(defs []*Definition, kind Kind) map[string]types.Money {
	candidates := make([]*Definition, 0, len(defs))
	for _, d := range defs {
		if d.IsActive && d.Kind == kind {
			candidates = append(candidates, d)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	out := make(map[string]types.Money)
	for _, d := range candidates {
		if len(d.ApplicableClasses) == 0 {
			if _, taken := out[AllClasses]; !taken {
				out[AllClasses] = d.Amount
			}
			continue
		}
		for _, c := range d.ApplicableClasses {
			c = strings.TrimSpace(c)
			if _, taken := out[c]; !taken {
				out[c] = d.Amount
			}
		}
	}
	return out
}

// ──────────────────────────────────────────────────
// Exam fee documents
// ──────────────────────────────────────────────────

// Generation names one of the two exam fee table generations kept in an
// examFees document.
type Generation string

// Table generations.
const (
	GenerationManagement Generation = "management"
	GenerationLegacy     Generation = "legacy"
)

// ManagementField is the examFees field holding the management table.
const ManagementField = "management"

// TablesFromDocument splits an examFees document into its management and
// legacy tables. Legacy cells are the top-level fee-kind fields; the
// management generation has the same shape nested under "management".
// Cells that are not numbers (or numeric strings) are skipped.
func TablesFromDocument(doc store.Document, currency string) (management, legacy Table) {
	management, legacy = Table{}, Table{}
	if doc == nil {
		return management, legacy
	}
	readTable(doc.Map(ManagementField), currency, management)

	top := make(store.Document, len(doc))
	for k, v := range doc {
		switch k {
		case ManagementField, "id", "schoolId", "createdAt", "updatedAt":
			continue
		}
		top[k] = v
	}
	readTable(top, currency, legacy)
	return management, legacy
}

func readTable(doc store.Document, currency string, into Table) {
	// Later writes win: the field-name form of a kind beats its short
	// name, and an exact class key beats one with blanks around it.
	for _, field := range sortedKeys(doc, func(k string) bool { return ParseKind(k).FieldName() == k }) {
		classes := doc.Map(field)
		if classes == nil {
			continue
		}
		kind := ParseKind(field)
		for _, className := range sortedKeys(classes, func(k string) bool { return strings.TrimSpace(k) == k }) {
			amount, ok := classes.Float(className)
			if !ok {
				continue
			}
			into.Set(kind, strings.TrimSpace(className), types.FromMajor(currency, amount))
		}
	}
}

// sortedKeys returns the keys of doc in name order with the preferred
// ones last.
func sortedKeys(doc store.Document, preferred func(string) bool) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := preferred(keys[i]), preferred(keys[j])
		if pi != pj {
			return pj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// CellPatch returns the examFees patch that writes one cell. The legacy
// generation writes the top-level field; management writes under
// "management". Existing sibling cells are preserved by the caller merging
// the returned row into the current one.
func CellPatch(gen Generation, current store.Document, kind Kind, className string, amount types.Money) store.Document {
	field := kind.FieldName()
	container := current
	if gen == GenerationManagement {
		container = current.Map(ManagementField)
	}

	row := store.Document{}
	if existing := container.Map(field); existing != nil {
		row = existing.Clone()
	}
	row[className] = amount.Major()

	if gen == GenerationManagement {
		mgmt := store.Document{}
		if container != nil {
			mgmt = container.Clone()
		}
		mgmt[field] = map[string]any(row)
		return store.Document{ManagementField: map[string]any(mgmt)}
	}
	return store.Document{field: map[string]any(row)}
}
