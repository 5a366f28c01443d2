package ingest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// workbookDocument reads spreadsheet workbooks through excelize.
type workbookDocument struct {
	f        *excelize.File
	sheets   []string
	date1904 bool

	// dateStyles caches whether a style id carries a date number format.
	dateStyles map[int]bool
}

func openWorkbook(data []byte) (*workbookDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrSourceUnreadable, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrSourceUnreadable)
	}

	doc := &workbookDocument{
		f:          f,
		sheets:     sheets,
		dateStyles: make(map[int]bool),
	}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		doc.date1904 = *props.Date1904
	}
	return doc, nil
}

func (d *workbookDocument) Sheets() []string { return d.sheets }

// Dimension reads the sheet's recorded used range, e.g. "A1:D500".
// Writers that omit the range leave the extent unknown.
func (d *workbookDocument) Dimension(sheet string) (int, int, bool) {
	ref, err := d.f.GetSheetDimension(sheet)
	if err != nil || ref == "" {
		return 0, 0, false
	}

	parts := strings.Split(ref, ":")
	col, row, err := excelize.CellNameToCoordinates(parts[len(parts)-1])
	if err != nil {
		return 0, 0, false
	}
	if len(parts) == 1 {
		// A bare "A1" is written for empty sheets as well as single cells.
		return 0, 0, false
	}
	if row >= excelize.TotalRows {
		// Formatting a whole column records the grid's last row; only a
		// scan finds the rows that hold data.
		return 0, 0, false
	}
	return row, col, true
}

func (d *workbookDocument) Scan(sheet string, fn func(int, []Cell) bool) error {
	if idx, err := d.f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := d.f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("%w: read sheet %q: %v", ErrSourceUnreadable, sheet, err)
	}
	defer rows.Close()

	// The iterator yields every row up to the last one, including gaps,
	// so the count matches the sheet's row numbers.
	rowNum := 0
	for rows.Next() {
		rowNum++
		raw, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return fmt.Errorf("%w: read row %d of %q: %v", ErrSourceUnreadable, rowNum, sheet, err)
		}

		cells := make([]Cell, len(raw))
		for i, v := range raw {
			cells[i] = d.cell(sheet, i+1, rowNum, v)
		}
		if !fn(rowNum, cells) {
			return nil
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("%w: read sheet %q: %v", ErrSourceUnreadable, sheet, err)
	}
	return nil
}

func (d *workbookDocument) Close() error { return d.f.Close() }

// cell converts a raw stored value into a typed Cell using the cell type and,
// for numbers, the number format of the cell's style.
func (d *workbookDocument) cell(sheet string, col, row int, raw string) Cell {
	if strings.TrimSpace(raw) == "" {
		return Null()
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Text(raw)
	}
	typ, err := d.f.GetCellType(sheet, axis)
	if err != nil {
		return Text(raw)
	}

	switch typ {
	case excelize.CellTypeBool, excelize.CellTypeError:
		return Other(raw)
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return Date(t)
			}
		}
		return Text(raw)
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeFormula:
		// Numeric cells usually carry no type attribute at all.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Text(raw)
		}
		if d.hasDateFormat(sheet, axis) {
			if t, err := excelize.ExcelDateToTime(f, d.date1904); err == nil {
				return Date(t)
			}
		}
		return Number(raw)
	default:
		return Text(raw)
	}
}

// Built-in number formats that render a date or timestamp.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 22: true,
	27: true, 30: true, 36: true, 50: true, 57: true,
}

func (d *workbookDocument) hasDateFormat(sheet, axis string) bool {
	styleID, err := d.f.GetCellStyle(sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if isDate, ok := d.dateStyles[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := d.f.GetStyle(styleID); err == nil && style != nil {
		switch {
		case builtinDateFormats[style.NumFmt]:
			isDate = true
		case style.CustomNumFmt != nil:
			isDate = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	d.dateStyles[styleID] = isDate
	return isDate
}

// isDateFormatCode reports whether a custom number format renders a date,
// ignoring quoted literals and bracketed sections such as colours.
func isDateFormatCode(code string) bool {
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'y' || r == 'd':
			return true
		}
	}
	return false
}
