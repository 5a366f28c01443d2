package ingest

import (
	"fmt"
	"strings"
)

// Severity grades a quality issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue types reported by AssessQuality.
const (
	IssueMissingDate  = "missing_date_column"
	IssueMissingAmt   = "missing_amount_column"
	IssueEmptyColumn  = "empty_column"
	IssueSparseColumn = "sparse_column"
	IssueUnparseable  = "unparseable_values"
	IssueDuplicates   = "duplicate_rows"
)

var severityPenalty = map[Severity]int{
	SeverityHigh:   25,
	SeverityMedium: 10,
	SeverityLow:    5,
}

// QualityIssue is one finding of a quality assessment.
type QualityIssue struct {
	Type        string   `json:"type"`
	Column      string   `json:"column,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// DataQualityReport summarizes how clean a sample looks. It is advisory:
// nothing in the pipeline gates on it.
type DataQualityReport struct {
	// Score runs from 0 to 100.
	Score  int            `json:"score"`
	Issues []QualityIssue `json:"issues"`
}

// AssessQuality inspects sampled rows against their classification.
// Each issue subtracts a penalty by severity from a starting score of 100.
func (c *Classifier) AssessQuality(rows []Row, classification Classification) DataQualityReport {
	var issues []QualityIssue
	add := func(typ, column string, sev Severity, format string, args ...any) {
		issues = append(issues, QualityIssue{
			Type:        typ,
			Column:      column,
			Description: fmt.Sprintf(format, args...),
			Severity:    sev,
		})
	}

	types := classification.Map()
	if !hasType(classification, TypeDate) {
		add(IssueMissingDate, "", SeverityHigh, "no column looks like a date")
	}
	if !hasType(classification, TypeAmount) {
		add(IssueMissingAmt, "", SeverityHigh, "no column looks like an amount")
	}

	for _, cc := range classification {
		if cc.Type == TypeEmpty {
			add(IssueEmptyColumn, cc.Column, SeverityLow, "column %q has no values", cc.Column)
			continue
		}
		empty := 0
		for _, r := range rows {
			if r.Get(cc.Column).IsEmpty() {
				empty++
			}
		}
		if len(rows) > 0 && float64(empty)/float64(len(rows)) > 0.5 {
			add(IssueSparseColumn, cc.Column, SeverityMedium,
				"column %q is empty in %d of %d sampled rows", cc.Column, empty, len(rows))
		}
	}

	for _, cc := range classification {
		var check func(Cell) bool
		switch types[cc.Column] {
		case TypeDate:
			check = c.isDateLike
		case TypeAmount:
			check = c.isNumeric
		default:
			continue
		}
		bad := 0
		for _, r := range rows {
			if v := r.Get(cc.Column); !v.IsEmpty() && !check(v) {
				bad++
			}
		}
		if bad > 0 {
			add(IssueUnparseable, cc.Column, SeverityMedium,
				"%d sampled values in %s column %q cannot be converted", bad, cc.Type, cc.Column)
		}
	}

	if dups := duplicateRows(rows); dups > 0 {
		add(IssueDuplicates, "", SeverityLow, "%d sampled rows repeat an earlier row", dups)
	}

	score := 100
	for _, is := range issues {
		score -= severityPenalty[is.Severity]
	}
	return DataQualityReport{Score: max(score, 0), Issues: issues}
}

func hasType(c Classification, t ColumnType) bool {
	for _, cc := range c {
		if cc.Type == t {
			return true
		}
	}
	return false
}

func duplicateRows(rows []Row) int {
	seen := make(map[string]struct{}, len(rows))
	dups := 0
	for _, r := range rows {
		parts := make([]string, 0, len(r.Columns()))
		for _, col := range r.Columns() {
			parts = append(parts, r.Get(col).String())
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}
