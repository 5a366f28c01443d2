package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// memSheet is an in-memory sheet. When rows is nil, gen produces n rows
// lazily so very large sheets cost nothing until scanned.
type memSheet struct {
	name  string
	rows  [][]Cell
	n     int
	gen   func(i int) []Cell
	known bool
}

type memDocument struct {
	sheets []memSheet
	scans  int
}

func (d *memDocument) Sheets() []string {
	names := make([]string, len(d.sheets))
	for i, s := range d.sheets {
		names[i] = s.name
	}
	return names
}

func (d *memDocument) sheet(name string) (*memSheet, bool) {
	for i := range d.sheets {
		if d.sheets[i].name == name {
			return &d.sheets[i], true
		}
	}
	return nil, false
}

func (d *memDocument) Dimension(name string) (int, int, bool) {
	s, ok := d.sheet(name)
	if !ok || !s.known {
		return 0, 0, false
	}
	if s.rows == nil {
		return s.n, len(s.gen(0)), true
	}
	width := 0
	for _, r := range s.rows {
		width = max(width, len(r))
	}
	return len(s.rows), width, true
}

func (d *memDocument) Scan(name string, fn func(int, []Cell) bool) error {
	s, ok := d.sheet(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, name)
	}
	d.scans++
	if s.rows == nil {
		for i := 0; i < s.n; i++ {
			if !fn(i+1, s.gen(i)) {
				return nil
			}
		}
		return nil
	}
	for i, r := range s.rows {
		if !fn(i+1, r) {
			return nil
		}
	}
	return nil
}

func (d *memDocument) Close() error { return nil }

// textRows converts string rows into text cells; "" becomes Null.
func textRows(rows ...[]string) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, r := range rows {
		cells := make([]Cell, len(r))
		for j, v := range r {
			if v == "" {
				cells[j] = Null()
			} else {
				cells[j] = Text(v)
			}
		}
		out[i] = cells
	}
	return out
}

func openCSV(t *testing.T, name string, lines ...string) Document {
	t.Helper()
	doc, err := Open(strings.NewReader(strings.Join(lines, "\n")), FormatDelimited, name, DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func textValues(values ...string) []Cell {
	return textRows(values)[0]
}
