package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func issueTypes(r DataQualityReport) []string {
	var out []string
	for _, is := range r.Issues {
		out = append(out, is.Type)
	}
	return out
}

func TestAssessQuality(t *testing.T) {
	c := NewClassifier(DefaultClassifierRules())
	header := []string{"Date", "Amount", "Memo", "Notes", "Blank"}
	row := func(v ...string) Row { return RowFromStrings(header, v) }

	t.Run("clean sample", func(t *testing.T) {
		rows := []Row{
			row("2024-01-01", "1.00", "Card payment", "a", ""),
			row("2024-01-02", "2.00", "Transfer", "b", ""),
		}
		types := Classification{
			{"Date", TypeDate}, {"Amount", TypeAmount}, {"Memo", TypeDescription}, {"Notes", TypeText},
		}
		report := c.AssessQuality(rows, types)
		assert.Equal(t, 100, report.Score)
		assert.Empty(t, report.Issues)
	})

	t.Run("problems", func(t *testing.T) {
		rows := []Row{
			row("2024-01-01", "1.00", "Card payment", "", ""),
			row("2024-01-01", "1.00", "Card payment", "", ""),
			row("2024-01-02", "n/a", "Transfer", "c", ""),
		}
		types := Classification{
			{"Date", TypeDate}, {"Amount", TypeAmount}, {"Memo", TypeDescription},
			{"Notes", TypeText}, {"Blank", TypeEmpty},
		}
		report := c.AssessQuality(rows, types)
		assert.Equal(t, []string{IssueSparseColumn, IssueEmptyColumn, IssueUnparseable, IssueDuplicates}, issueTypes(report))
		// medium 10 + low 5 + medium 10 + low 5
		assert.Equal(t, 70, report.Score)
		assert.Equal(t, "Amount", report.Issues[2].Column)
	})

	t.Run("missing columns", func(t *testing.T) {
		types := Classification{{"Memo", TypeText}}
		report := c.AssessQuality([]Row{row("", "", "x", "", "")}, types)
		assert.Equal(t, []string{IssueMissingDate, IssueMissingAmt}, issueTypes(report))
		assert.Equal(t, 50, report.Score)
		assert.Equal(t, SeverityHigh, report.Issues[0].Severity)
	})

	t.Run("score is clamped", func(t *testing.T) {
		var types Classification
		for _, h := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o"} {
			types = append(types, ColumnClassification{h, TypeEmpty})
		}
		report := c.AssessQuality(nil, types)
		assert.Equal(t, 0, report.Score)
	})
}
