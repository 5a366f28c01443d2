package ingest

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// MinColumns is the fewest columns a transaction sheet can carry
// (date, amount, description).
const MinColumns = 3

// DefaultSampleSize is how many values per column feed classification.
const DefaultSampleSize = 20

// Table is a sheet read into memory: a header row and its data rows.
// Fully empty rows are dropped.
type Table struct {
	Sheet  string
	Header []string
	Rows   []Row
}

// ColumnSample holds up to n non-null values of one column.
type ColumnSample struct {
	Name   string `json:"name"`
	Values []Cell `json:"-"`
	// Total is how many rows were inspected, empty cells included.
	Total int `json:"total"`
}

// ReadSheet loads a sheet. The first non-empty row is the header. Rows past
// limits.MaxRows fail with ErrSourceTooLarge, including on sheets whose size
// the source does not record.
func ReadSheet(doc Document, sheet string, limits Limits) (*Table, error) {
	if !hasSheet(doc, sheet) {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	table := &Table{Sheet: sheet}
	var rawHeader []Cell
	var tooMany bool

	err := doc.Scan(sheet, func(_ int, cells []Cell) bool {
		if rawHeader == nil {
			if rowEmpty(cells) {
				return true
			}
			rawHeader = cells
			table.Header = normalizeHeader(cells)
			return true
		}
		if rowEmpty(cells) {
			return true
		}
		if limits.MaxRows > 0 && len(table.Rows) >= limits.MaxRows {
			tooMany = true
			return false
		}
		table.Rows = append(table.Rows, NewRow(table.Header, cells))
		return true
	})
	if err != nil {
		return nil, err
	}
	if tooMany {
		return nil, tooLarge(sheet, limits.MaxRows)
	}
	return table, nil
}

// ValidateStructure rejects sheets that cannot hold transactions.
func ValidateStructure(t *Table) error {
	if len(t.Header) < MinColumns {
		return fmt.Errorf("%w: sheet %q has %d columns, need at least %d",
			ErrSourceStructureInvalid, t.Sheet, len(t.Header), MinColumns)
	}
	if len(t.Rows) == 0 {
		return fmt.Errorf("%w: sheet %q has no data rows", ErrSourceStructureInvalid, t.Sheet)
	}
	return nil
}

// Sample returns one ColumnSample per header column, in header order, drawn
// from the first rows of the table. Each sample keeps at most n non-null values.
func (t *Table) Sample(n int) []ColumnSample {
	if n <= 0 {
		n = DefaultSampleSize
	}
	samples := make([]ColumnSample, len(t.Header))
	for i, col := range t.Header {
		samples[i].Name = col
	}

	for _, row := range t.Head(n) {
		for i, col := range t.Header {
			samples[i].Total++
			if c := row.Get(col); !c.IsEmpty() {
				samples[i].Values = append(samples[i].Values, c)
			}
		}
	}
	return samples
}

// Head returns the first n data rows.
func (t *Table) Head(n int) []Row {
	return t.Rows[:min(n, len(t.Rows))]
}

// All yields the data rows in order.
func (t *Table) All() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, r := range t.Rows {
			if !yield(r) {
				return
			}
		}
	}
}

func hasSheet(doc Document, sheet string) bool {
	for _, s := range doc.Sheets() {
		if s == sheet {
			return true
		}
	}
	return false
}

func rowEmpty(cells []Cell) bool {
	for _, c := range cells {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// normalizeHeader names blank columns "Column N" and suffixes repeated names
// with the lowest free _2, _3 so every column is addressable. Names are
// compared case-insensitively.
func normalizeHeader(cells []Cell) []string {
	header := make([]string, len(cells))
	used := make(map[string]bool, len(cells))
	for i, c := range cells {
		name := CleanCell(c.String())
		if name == "" {
			name = "Column " + strconv.Itoa(i+1)
		}
		if used[strings.ToLower(name)] {
			base := name
			for n := 2; used[strings.ToLower(name)]; n++ {
				name = base + "_" + strconv.Itoa(n)
			}
		}
		used[strings.ToLower(name)] = true
		header[i] = name
	}
	return header
}
