package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Document is a schemaless record. Values are the JSON-ish set: string,
// bool, numbers, time.Time, []any, map[string]any (or Document) and nil.
//
// Getters are tolerant: documents are also written by other parts of the
// application, so a missing or mistyped optional field reads as the
// zero value instead of failing.
type Document map[string]any

// ID returns the document id carried under the "id" key.
func (d Document) ID() string { return d.String("id") }

// Has reports whether key is present with a non-nil value.
func (d Document) Has(key string) bool {
	v, ok := d[key]
	return ok && v != nil
}

// String returns the value at key as a string. Numbers are formatted.
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64, float32, int, int32, int64:
		f, _ := toFloat(v)
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the value at key as a float64. Numeric strings are
// parsed; anything else reads as 0 with ok false.
func (d Document) Float(key string) (float64, bool) {
	return toFloat(d[key])
}

// Number returns the value at key as a float64, or 0.
func (d Document) Number(key string) float64 {
	f, _ := d.Float(key)
	return f
}

// Int returns the value at key truncated to an int64.
func (d Document) Int(key string) int64 {
	f, _ := d.Float(key)
	return int64(f)
}

// Bool returns the value at key as a bool, or def when absent or not a bool.
func (d Document) Bool(key string, def bool) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Time returns the value at key as a time. RFC 3339 strings, "2006-01-02"
// dates and epoch milliseconds are accepted.
func (d Document) Time(key string) time.Time {
	t, _ := toTime(d[key])
	return t
}

// Map returns the nested document at key, or nil.
func (d Document) Map(key string) Document {
	switch v := d[key].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	default:
		return nil
	}
}

// Strings returns the string list at key. A lone string becomes a
// one-element list.
func (d Document) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// TimeLayout is the fixed-width UTC layout used when a backend has to
// store times as text, so that text order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Encode returns a copy of the document with times rendered in TimeLayout
// and nested documents turned into plain maps, ready for JSON or BSON.
func (d Document) Encode() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(TimeLayout)
	case Document:
		return t.Encode()
	case map[string]any:
		return Document(t).Encode()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = encodeValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of d with patch applied on top. A nil value in
// patch removes the field.
func Merge(d, patch Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case int64, float64, int, json.Number:
		ms, ok := toFloat(t)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Marshal renders the document as JSON with times in TimeLayout.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d.Encode())
}

// Unmarshal parses a JSON document body. Numbers decode as float64 and
// times stay TimeLayout strings; the typed getters read both.
func Unmarshal(body []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
