package analytics

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExamResultsExcel renders exam results as an xlsx workbook.
func ExamResultsExcel(items []ExamResultRow) ([]byte, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"student_id", "first_name", "last_name", "email", "score", "max_score", "percentage", "submitted_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		values := []any{
			it.StudentID,
			it.FirstName,
			it.LastName,
			it.Email,
			it.Score,
			it.MaxScore,
			it.Percentage,
			it.SubmittedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
