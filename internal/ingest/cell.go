package ingest

import (
	"strconv"
	"strings"
	"time"
)

// CellKind tags the variant held by a Cell.
type CellKind int

const (
	KindNull CellKind = iota
	KindText
	KindNumber
	KindDate
	KindOther
)

func (k CellKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "other"
	}
}

// Cell is a single raw value read from a source.
//
// Delimited sources only produce Null and Text cells. Workbooks also produce
// Number and Date cells when the spreadsheet stores native values.
// Number keeps its literal decimal representation so amounts can be converted
// without going through a binary float.
type Cell struct {
	kind   CellKind
	text   string
	number string
	date   time.Time
}

// Null returns the empty cell.
func Null() Cell { return Cell{} }

// Text returns a text cell. Text is stored as given.
func Text(s string) Cell { return Cell{kind: KindText, text: s} }

// Number returns a numeric cell from its literal representation, e.g. "1200.5".
func Number(literal string) Cell { return Cell{kind: KindNumber, number: literal} }

// Float returns a numeric cell from a float, formatted with the shortest
// representation that round-trips.
func Float(f float64) Cell {
	return Cell{kind: KindNumber, number: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Date returns a native date/timestamp cell.
func Date(t time.Time) Cell { return Cell{kind: KindDate, date: t} }

// Other returns a cell for values with no better representation (booleans,
// spreadsheet errors). The display text is kept.
func Other(display string) Cell { return Cell{kind: KindOther, text: display} }

// Kind reports the variant.
func (c Cell) Kind() CellKind { return c.kind }

// IsEmpty reports whether the cell is null or whitespace-only text.
func (c Cell) IsEmpty() bool {
	switch c.kind {
	case KindNull:
		return true
	case KindText, KindOther:
		return strings.TrimSpace(c.text) == ""
	default:
		return false
	}
}

// Time returns the native date value; ok is false for non-date cells.
func (c Cell) Time() (time.Time, bool) {
	if c.kind != KindDate {
		return time.Time{}, false
	}
	return c.date, true
}

// NumberLiteral returns the literal of a numeric cell; ok is false otherwise.
func (c Cell) NumberLiteral() (string, bool) {
	if c.kind != KindNumber {
		return "", false
	}
	return c.number, true
}

// String renders the cell the way it would appear in a text export.
func (c Cell) String() string {
	switch c.kind {
	case KindNull:
		return ""
	case KindNumber:
		return c.number
	case KindDate:
		if c.date.Hour() == 0 && c.date.Minute() == 0 && c.date.Second() == 0 {
			return c.date.Format("2006-01-02")
		}
		return c.date.Format("2006-01-02 15:04:05")
	default:
		return c.text
	}
}

// Row is one data row of a sheet, addressed by column name.
type Row struct {
	header []string
	index  map[string]int
	cells  []Cell
}

// NewRow builds a row over header. Missing trailing cells read as Null.
func NewRow(header []string, cells []Cell) Row {
	return Row{header: header, index: headerIndex(header), cells: cells}
}

// RowFromStrings builds a row of text cells; empty strings become Null.
func RowFromStrings(header []string, values []string) Row {
	cells := make([]Cell, len(values))
	for i, v := range values {
		if v == "" {
			cells[i] = Null()
		} else {
			cells[i] = Text(v)
		}
	}
	return NewRow(header, cells)
}

// Columns returns the header the row is addressed by.
func (r Row) Columns() []string { return r.header }

// Get returns the cell for column, or Null when the column is unknown or the
// row is short.
func (r Row) Get(column string) Cell {
	i, ok := r.index[column]
	if !ok || i >= len(r.cells) {
		return Null()
	}
	return r.cells[i]
}

// IsEmpty reports whether every cell of the row is empty.
func (r Row) IsEmpty() bool {
	for _, c := range r.cells {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// Raw returns the original values keyed by column name.
func (r Row) Raw() map[string]string {
	raw := make(map[string]string, len(r.header))
	for i, col := range r.header {
		if i < len(r.cells) {
			raw[col] = r.cells[i].String()
		} else {
			raw[col] = ""
		}
	}
	return raw
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return idx
}
