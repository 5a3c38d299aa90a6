package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/xraph/bursar/result"
)

var meritHeader = []any{
	"Position", "Student", "Class", "Obtained", "Total", "Percentage", "Grade", "Subjects", "Absent", "Failed",
}

// WriteMeritList writes standings as an XLSX workbook with one sheet named
// after the exam.
func WriteMeritList(w io.Writer, examID string, standings []*result.Standing) error {
	f := excelize.NewFile()
	defer f.Close()

	name := sheetName(examID)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("sheet: name sheet: %w", err)
	}

	if err := f.SetSheetRow(name, "A1", &meritHeader); err != nil {
		return fmt.Errorf("sheet: write header: %w", err)
	}
	for i, s := range standings {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			s.Position, s.StudentID, s.ClassName, s.Obtained, s.Total,
			s.Percentage, s.Grade, s.Subjects, s.Absent, s.Failed,
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("sheet: write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(name, "B", "C", 18); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("sheet: write workbook: %w", err)
	}
	return nil
}

// sheetName makes examID usable as a worksheet name: at most 31
// characters and none of : \ / ? * [ ].
func sheetName(examID string) string {
	if examID == "" {
		return "Merit"
	}
	out := make([]rune, 0, len(examID))
	for _, r := range examID {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			r = '_'
		}
		out = append(out, r)
		if len(out) == 31 {
			break
		}
	}
	return string(out)
}
