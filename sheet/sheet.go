// Package sheet reads bulk result entries from CSV or XLSX files and
// writes merit lists to XLSX.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/xraph/bursar/result"
)

// ErrNoHeader is returned for a sheet without a usable header row.
var ErrNoHeader = errors.New("sheet: missing header row")

// Defaults fill columns a sheet leaves out.
type Defaults struct {
	ExamID     string
	ClassName  string
	SchoolID   string
	TotalMarks float64
}

// Row is one parsed line. Err is set when the line could not be read as
// an entry; the other lines are still returned.
type Row struct {
	Line  int
	Entry result.Entry
	Err   error
}

// column aliases, matched after lower-casing and dropping blanks, dashes
// and underscores.
var columns = map[string]string{
	"studentid":     "studentId",
	"student":       "studentId",
	"roll":          "studentId",
	"examid":        "examId",
	"exam":          "examId",
	"subject":       "subject",
	"obtainedmarks": "obtainedMarks",
	"obtained":      "obtainedMarks",
	"marks":         "obtainedMarks",
	"totalmarks":    "totalMarks",
	"total":         "totalMarks",
	"fullmarks":     "totalMarks",
	"isabsent":      "isAbsent",
	"absent":        "isAbsent",
	"classname":     "className",
	"class":         "className",
	"schoolid":      "schoolId",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// ReadFile reads a .csv or .xlsx file.
func ReadFile(path string, d Defaults) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(f, d)
	case ".csv", ".txt":
		return ReadCSV(f, d)
	default:
		return nil, fmt.Errorf("sheet: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV reads entries from CSV with a header row.
func ReadCSV(r io.Reader, d Defaults) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sheet: read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return Parse(rows, d)
}

// ReadXLSX reads entries from the first worksheet of an XLSX workbook.
func ReadXLSX(r io.Reader, d Defaults) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("sheet: open xlsx: %w", err)
	}
	defer f.Close()

	name := f.GetSheetName(0)
	if name == "" {
		name = "Sheet1"
	}
	data, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s: %w", name, err)
	}
	return Parse(data, d)
}

// Parse maps raw rows to entries. The first non-empty row is the header.
// Blank rows are skipped. Line numbers are 1-based positions in rows, so
// the header is line 1.
func Parse(rows [][]string, d Defaults) ([]Row, error) {
	start := 0
	for start < len(rows) && blank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, ErrNoHeader
	}

	index := make(map[string]int)
	for i, h := range rows[start] {
		if field, ok := columns[normalizeHeader(h)]; ok {
			if _, dup := index[field]; !dup {
				index[field] = i
			}
		}
	}
	for _, required := range []string{"studentId", "subject"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: no %s column", ErrNoHeader, required)
		}
	}
	if _, ok := index["obtainedMarks"]; !ok {
		if _, ok := index["isAbsent"]; !ok {
			return nil, fmt.Errorf("%w: no marks column", ErrNoHeader)
		}
	}

	out := make([]Row, 0, len(rows)-start-1)
	for i := start + 1; i < len(rows); i++ {
		if blank(rows[i]) {
			continue
		}
		entry, err := parseRow(rows[i], index, d)
		out = append(out, Row{Line: i + 1, Entry: entry, Err: err})
	}
	return out, nil
}

func parseRow(row []string, index map[string]int, d Defaults) (result.Entry, error) {
	cell := func(field string) string {
		i, ok := index[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	e := result.Entry{
		StudentID:  cell("studentId"),
		ExamID:     or(cell("examId"), d.ExamID),
		Subject:    cell("subject"),
		ClassName:  or(cell("className"), d.ClassName),
		SchoolID:   or(cell("schoolId"), d.SchoolID),
		TotalMarks: d.TotalMarks,
		IsAbsent:   truthy(cell("isAbsent")),
	}

	if raw := cell("totalMarks"); raw != "" {
		v, err := number(raw)
		if err != nil {
			return e, fmt.Errorf("totalMarks %q: %w", raw, err)
		}
		e.TotalMarks = v
	}

	raw := cell("obtainedMarks")
	switch {
	case isAbsentMark(raw):
		e.IsAbsent = true
	case raw == "" && !e.IsAbsent:
		return e, errors.New("obtainedMarks is empty")
	case raw != "":
		v, err := number(raw)
		if err != nil {
			return e, fmt.Errorf("obtainedMarks %q: %w", raw, err)
		}
		e.ObtainedMarks = v
	}
	return e, nil
}

func number(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "absent", "a", "ab":
		return true
	}
	return false
}

func isAbsentMark(s string) bool {
	switch strings.ToLower(s) {
	case "ab", "abs", "absent", "a":
		return true
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
