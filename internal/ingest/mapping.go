package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// Target is a canonical field a source column can be mapped onto.
// Targets other than the predefined ones are passed through as extra fields.
type Target string

const (
	TargetDate        Target = "date"
	TargetAmount      Target = "amount"
	TargetDescription Target = "description"
	TargetCurrency    Target = "currency"
	TargetIgnore      Target = "ignore"
)

// singleTargets may be assigned to at most one column.
var singleTargets = []Target{TargetDate, TargetAmount, TargetDescription, TargetCurrency}

// FieldMapping maps source column names to targets.
type FieldMapping map[string]Target

// SuggestMapping proposes a mapping from a classification.
//
// The first column of each detected type claims the date, amount and
// description slots. Slots still empty afterwards are filled by matching the
// column names ("date"; "amount"; "description", "memo", "detail"; "currency").
// Every other column maps to ignore.
func SuggestMapping(classification Classification, columns []string) FieldMapping {
	mapping := make(FieldMapping, len(columns))
	for _, col := range columns {
		mapping[col] = TargetIgnore
	}
	filled := make(map[Target]bool, len(singleTargets))

	assign := func(col string, target Target) {
		if filled[target] || mapping[col] != TargetIgnore {
			return
		}
		mapping[col] = target
		filled[target] = true
	}

	types := classification.Map()
	for _, col := range columns {
		switch types[col] {
		case TypeDate:
			assign(col, TargetDate)
		case TypeAmount:
			assign(col, TargetAmount)
		case TypeDescription:
			assign(col, TargetDescription)
		}
	}

	for _, col := range columns {
		name := strings.ToLower(col)
		switch {
		case strings.Contains(name, "date"):
			assign(col, TargetDate)
		case strings.Contains(name, "amount"):
			assign(col, TargetAmount)
		case containsAny(name, []string{"description", "memo", "detail"}):
			assign(col, TargetDescription)
		case strings.Contains(name, "currency") || name == "ccy":
			assign(col, TargetCurrency)
		}
	}

	return mapping
}

// Merge returns a copy of m with override applied on top. Override entries
// replace the suggested target for their column, including "ignore".
func (m FieldMapping) Merge(override map[string]string) FieldMapping {
	out := make(FieldMapping, len(m)+len(override))
	for col, t := range m {
		out[col] = t
	}
	for col, t := range override {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			t = string(TargetIgnore)
		}
		out[col] = Target(t)
	}
	return out
}

// Validate checks that every mapped column exists in columns and that no
// single-valued target is claimed twice.
func (m FieldMapping) Validate(columns []string) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	var unknown []string
	for col := range m {
		if !known[col] {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownColumn, strings.Join(unknown, ", "))
	}

	for _, target := range singleTargets {
		cols := m.ColumnsFor(target, columns)
		if len(cols) > 1 {
			return fmt.Errorf("%w: %s is mapped from %s", ErrMappingConflict, target, strings.Join(cols, ", "))
		}
	}
	return nil
}

// ColumnsFor returns the columns mapped to target, in column order.
func (m FieldMapping) ColumnsFor(target Target, columns []string) []string {
	var out []string
	for _, col := range columns {
		if m[col] == target {
			out = append(out, col)
		}
	}
	return out
}
