// Package export mirrors the attendance ledger into spreadsheets: a fresh
// report workbook, a CSV file, or an existing class roster with status
// columns written back.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"qrattend/internal/attendance"
)

// ReportSheet is the sheet holding one row per check-in.
const ReportSheet = "Attendance"

const summarySheet = "Summary"

var reportHeader = []string{"Student ID", "Student Name", "Code Used", "Timestamp", "Status"}

// TimestampLayout formats timestamps in every export.
const TimestampLayout = time.RFC3339

// ReportFilename is the download name for a report generated at t.
func ReportFilename(t time.Time) string {
	return "Attendance_Report_" + t.Format("2006-01-02") + ".xlsx"
}

// CSVFilename is the download name for a CSV export generated at t.
func CSVFilename(t time.Time) string {
	return "Attendance_Report_" + t.Format("2006-01-02") + ".csv"
}

func recordRow(rec attendance.Record) []string {
	return []string{
		rec.StudentID,
		rec.StudentName,
		rec.Code,
		rec.Timestamp.Format(TimestampLayout),
		rec.Status,
	}
}

// WriteReport writes an .xlsx workbook with one row per record and a
// summary sheet.
func WriteReport(w io.Writer, records []attendance.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ReportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := setRow(f, ReportSheet, 1, toAny(reportHeader)); err != nil {
		return err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(reportHeader), 1)
	if err := f.SetCellStyle(ReportSheet, "A1", lastHeader, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(ReportSheet, "A", "E", 22); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	for i, rec := range records {
		if err := setRow(f, ReportSheet, i+2, toAny(recordRow(rec))); err != nil {
			return err
		}
	}

	students := make(map[string]struct{}, len(records))
	for _, rec := range records {
		students[rec.StudentID] = struct{}{}
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	summary := [][]any{
		{"Total Check-ins", len(records)},
		{"Distinct Students", len(students)},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes the same columns as WriteReport as CSV.
func WriteCSV(w io.Writer, records []attendance.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(recordRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
