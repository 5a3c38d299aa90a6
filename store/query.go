package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op string

// Supported operators.
const (
	OpEq     Op = "=="
	OpNe     Op = "!="
	OpIn     Op = "in"
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpPrefix Op = "prefix"
)

// Filter is a predicate on one top-level field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection. All filters must match.
type Query struct {
	Filters []Filter
	OrderBy []Order
	// Limit caps the result; zero means no cap.
	Limit int
}

// Where returns a query with a single filter.
func Where(field string, op Op, value any) Query {
	return Query{}.Where(field, op, value)
}

// Where adds a filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// Eq adds an equality filter.
func (q Query) Eq(field string, value any) Query { return q.Where(field, OpEq, value) }

// Order adds an ordering key.
func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Desc: desc})
	return q
}

// WithLimit caps the number of results.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// String renders the query for logs.
func (q Query) String() string {
	parts := make([]string, 0, len(q.Filters)+len(q.OrderBy)+1)
	for _, f := range q.Filters {
		parts = append(parts, fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value))
	}
	for _, o := range q.OrderBy {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		parts = append(parts, "order "+o.Field+" "+dir)
	}
	if q.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit %d", q.Limit))
	}
	return strings.Join(parts, ", ")
}

// Apply filters, sorts and limits docs according to q. The input slice is
// not modified.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if Match(d, q.Filters) {
			out = append(out, d)
		}
	}
	Sort(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Match reports whether doc satisfies every filter.
func Match(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(doc[f.Field], f) {
			return false
		}
	}
	return true
}

func matchOne(v any, f Filter) bool {
	switch f.Op {
	case OpEq:
		return compare(v, f.Value) == 0
	case OpNe:
		return compare(v, f.Value) != 0
	case OpIn:
		for _, candidate := range listOf(f.Value) {
			if compare(v, candidate) == 0 {
				return true
			}
		}
		return false
	case OpGt:
		return v != nil && compare(v, f.Value) > 0
	case OpGte:
		return v != nil && compare(v, f.Value) >= 0
	case OpLt:
		return v != nil && compare(v, f.Value) < 0
	case OpLte:
		return v != nil && compare(v, f.Value) <= 0
	case OpPrefix:
		s, ok := v.(string)
		p, pok := f.Value.(string)
		return ok && pok && strings.HasPrefix(s, p)
	default:
		return false
	}
}

// Sort orders docs in place by the given keys. Ties keep their relative
// order and finally fall back to the document id.
func Sort(docs []Document, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			c := compare(docs[i][o.Field], docs[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID() < docs[j].ID()
	})
}

// compare orders two document values. nil sorts first; numbers compare
// numerically, times chronologically, everything else by string form.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return cmp3(af, bf)
		}
	}
	if isTime(a) || isTime(b) {
		at, aok := toTime(a)
		bt, bok := toTime(b)
		if aok && bok {
			return at.Compare(bt)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// numeric accepts real number types only; numeric strings stay strings so
// that ids like "007" compare textually.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case string:
		return 0, false
	default:
		return toFloat(v)
	}
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func cmp3(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func listOf(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	default:
		return []any{v}
	}
}

// Pushdown returns the filters of q a backend can evaluate natively:
// equality on a string value of a plain field name. Backends use them to
// narrow a scan and still run Apply on the result, so a pushed filter
// never changes the outcome, only the amount of data read.
func Pushdown(q Query) []Filter {
	var out []Filter
	for _, f := range q.Filters {
		if f.Op != OpEq || !plainField(f.Field) {
			continue
		}
		if _, ok := f.Value.(string); ok {
			out = append(out, f)
		}
	}
	return out
}

func plainField(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
