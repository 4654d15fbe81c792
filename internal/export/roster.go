package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"qrattend/internal/attendance"
)

// StatusAbsent marks roster rows with no check-in.
const StatusAbsent = "Absent"

// DefaultIDHeaders are the header names recognised as the student ID column.
var DefaultIDHeaders = []string{
	"student_id", "student id", "studentid",
	"roll no", "roll number", "registration number", "reg no",
	"usn", "id",
}

var nameHeaders = []string{"student_name", "student name", "name"}

var (
	ErrEmptyRoster    = errors.New("roster has no header row")
	ErrNoIDColumn     = errors.New("roster has no student id column")
	errRosterNoSheets = errors.New("roster has no sheets")
)

// RosterResult reports what FillRoster wrote.
type RosterResult struct {
	Sheet    string
	IDColumn string
	Present  int
	Absent   int
	Appended int
}

// FindColumn returns the index of the first header matching any candidate,
// ignoring case and surrounding whitespace, or -1.
func FindColumn(header []string, candidates []string) int {
	for _, want := range candidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(want)) {
				return i
			}
		}
	}
	return -1
}

// FillRoster reads a roster workbook from src, marks every student row with
// the latest check-in from records, appends checked-in students missing from
// the roster, and writes the workbook to dst.
func FillRoster(src io.Reader, dst io.Writer, records []attendance.Record, idHeaders []string) (RosterResult, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return RosterResult{}, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	res, err := fillWorkbook(f, records, idHeaders)
	if err != nil {
		return res, err
	}
	if err := f.Write(dst); err != nil {
		return res, fmt.Errorf("write roster: %w", err)
	}
	return res, nil
}

// FillRosterFile updates the roster workbook at path in place.
func FillRosterFile(path string, records []attendance.Record, idHeaders []string) (RosterResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return RosterResult{}, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	res, err := fillWorkbook(f, records, idHeaders)
	if err != nil {
		return res, err
	}
	if err := f.Save(); err != nil {
		return res, fmt.Errorf("save roster: %w", err)
	}
	return res, nil
}

func fillWorkbook(f *excelize.File, records []attendance.Record, idHeaders []string) (RosterResult, error) {
	if len(idHeaders) == 0 {
		idHeaders = DefaultIDHeaders
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return RosterResult{}, errRosterNoSheets
	}
	res := RosterResult{Sheet: sheets[0]}

	rows, err := f.GetRows(res.Sheet)
	if err != nil {
		return res, fmt.Errorf("read roster: %w", err)
	}
	if len(rows) == 0 {
		return res, ErrEmptyRoster
	}
	header := rows[0]

	idCol := FindColumn(header, idHeaders)
	if idCol < 0 {
		return res, ErrNoIDColumn
	}
	res.IDColumn = strings.TrimSpace(header[idCol])
	nameCol := FindColumn(header, nameHeaders)

	next := len(header)
	ensure := func(title string) (int, error) {
		if i := FindColumn(header, []string{title}); i >= 0 {
			return i, nil
		}
		col := next
		next++
		return col, setCell(f, res.Sheet, col, 1, title)
	}
	statusCol, err := ensure("Status")
	if err != nil {
		return res, err
	}
	tsCol, err := ensure("Timestamp")
	if err != nil {
		return res, err
	}
	codeCol, err := ensure("Code Used")
	if err != nil {
		return res, err
	}

	latest := make(map[string]attendance.Record, len(records))
	var order []string
	for _, rec := range records {
		key := rosterKey(rec.StudentID)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = rec
	}

	matched := make(map[string]bool, len(latest))
	for i, row := range rows[1:] {
		if idCol >= len(row) || strings.TrimSpace(row[idCol]) == "" {
			continue
		}
		rowNum := i + 2
		key := rosterKey(row[idCol])
		rec, ok := latest[key]
		if !ok {
			res.Absent++
			if err := writeAbsent(f, res.Sheet, rowNum, statusCol, tsCol, codeCol); err != nil {
				return res, err
			}
			continue
		}
		matched[key] = true
		res.Present++
		if err := writeCheckin(f, res.Sheet, rowNum, rec, statusCol, tsCol, codeCol); err != nil {
			return res, err
		}
	}

	rowNum := len(rows) + 1
	for _, key := range order {
		if matched[key] {
			continue
		}
		rec := latest[key]
		if err := setCell(f, res.Sheet, idCol, rowNum, rec.StudentID); err != nil {
			return res, err
		}
		if nameCol >= 0 {
			if err := setCell(f, res.Sheet, nameCol, rowNum, rec.StudentName); err != nil {
				return res, err
			}
		}
		if err := writeCheckin(f, res.Sheet, rowNum, rec, statusCol, tsCol, codeCol); err != nil {
			return res, err
		}
		res.Appended++
		rowNum++
	}
	return res, nil
}

func writeCheckin(f *excelize.File, sheet string, row int, rec attendance.Record, statusCol, tsCol, codeCol int) error {
	if err := setCell(f, sheet, statusCol, row, rec.Status); err != nil {
		return err
	}
	if err := setCell(f, sheet, tsCol, row, rec.Timestamp.Format(TimestampLayout)); err != nil {
		return err
	}
	return setCell(f, sheet, codeCol, row, rec.Code)
}

// writeAbsent marks a row Absent and clears check-in cells left by an
// earlier session.
func writeAbsent(f *excelize.File, sheet string, row, statusCol, tsCol, codeCol int) error {
	if err := setCell(f, sheet, statusCol, row, StatusAbsent); err != nil {
		return err
	}
	if err := setCell(f, sheet, tsCol, row, ""); err != nil {
		return err
	}
	return setCell(f, sheet, codeCol, row, "")
}

// setCell writes value at a zero-based column and one-based row.
func setCell(f *excelize.File, sheet string, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func rosterKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
