package ingest

import (
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineOutput struct {
	probe   *ProbeResult
	table   *Table
	types   Classification
	mapping FieldMapping
	result  *Result
}

func runPipeline(t *testing.T, doc Document) pipelineOutput {
	t.Helper()
	probe, err := NewProber(DefaultProbeRules()).Probe(doc)
	require.NoError(t, err)

	table, err := ReadSheet(doc, probe.RecommendedSheet, DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, ValidateStructure(table))

	types := NewClassifier(DefaultClassifierRules()).ClassifyColumns(table.Sample(DefaultSampleSize))
	mapping := SuggestMapping(types, table.Header)
	result := NewMaterializer(DefaultMaterializerRules()).Materialize(table.All(), mapping)
	return pipelineOutput{probe, table, types, mapping, result}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPipeline_SingleSheetStatement(t *testing.T) {
	doc := &memDocument{sheets: []memSheet{{
		name:  "Sheet1",
		known: true,
		rows: textRows(
			[]string{"Date", "Amount", "Memo"},
			[]string{"2024-01-05", "$1,200.00", "Rent"},
			[]string{"01/06/2024", "(50.00)", "Refund"},
		),
	}}}

	out := runPipeline(t, doc)

	assert.Equal(t, "Sheet1", out.probe.RecommendedSheet)
	assert.Equal(t, map[string]ColumnType{
		"Date":   TypeDate,
		"Amount": TypeAmount,
		"Memo":   TypeDescription,
	}, out.types.Map())

	require.Empty(t, out.result.Errors)
	require.Len(t, out.result.Records, 2)

	first, second := out.result.Records[0], out.result.Records[1]
	require.NotNil(t, first.Date)
	assert.Equal(t, day(2024, time.January, 5), *first.Date)
	assert.True(t, first.Amount.Decimal.Equal(decimal.RequireFromString("1200.00")))
	assert.Equal(t, "Rent", first.Description)
	assert.Equal(t, 1, first.RowNumber)
	assert.Equal(t, "USD", first.Currency)

	require.NotNil(t, second.Date)
	assert.Equal(t, day(2024, time.January, 6), *second.Date)
	assert.True(t, second.Amount.Decimal.Equal(decimal.RequireFromString("-50.00")))
	assert.Equal(t, "Refund", second.Description)
	assert.Equal(t, 2, second.RowNumber)
}

func TestPipeline_BadDateSkipsRow(t *testing.T) {
	doc := &memDocument{sheets: []memSheet{{
		name:  "Sheet1",
		known: true,
		rows: textRows(
			[]string{"Date", "Amount", "Memo"},
			[]string{"2024-01-05", "$1,200.00", "Rent"},
			[]string{"not-a-date", "(50.00)", "Refund"},
		),
	}}}

	out := runPipeline(t, doc)

	assert.Equal(t, TargetDate, out.mapping["Date"])
	require.Len(t, out.result.Records, 1)
	assert.Equal(t, 1, out.result.Records[0].RowNumber)

	require.Len(t, out.result.Errors, 1)
	rowErr := out.result.Errors[0]
	assert.Equal(t, 2, rowErr.RowNumber)
	assert.Contains(t, rowErr.Message, "date")

	var dateErr *DateParseError
	assert.ErrorAs(t, rowErr, &dateErr)
	assert.Equal(t, "not-a-date", dateErr.Value)
}

func TestPipeline_CSVSource(t *testing.T) {
	doc := openCSV(t, "statement.csv",
		"Date,Amount,Memo",
		`2024-01-05,"$1,200.00",Rent`,
		"01/06/2024,(50.00),Refund",
	)

	out := runPipeline(t, doc)

	assert.Equal(t, "statement", out.probe.RecommendedSheet)
	require.Len(t, out.result.Records, 2)
	assert.True(t, out.result.Records[0].Amount.Decimal.Equal(decimal.RequireFromString("1200")))
	assert.Equal(t, map[string]string{"Date": "01/06/2024", "Amount": "(50.00)", "Memo": "Refund"},
		out.result.Records[1].RawRow)
}

func TestPipeline_TooLargeFailsBeforeMaterialization(t *testing.T) {
	const dataRows = 150_000
	gen := func(i int) []Cell {
		if i == 0 {
			return textValues("Date", "Amount", "Memo")
		}
		return textValues("2024-01-05", strconv.Itoa(i), "Payment")
	}
	doc := &memDocument{sheets: []memSheet{{name: "Sheet1", n: dataRows + 1, gen: gen, known: true}}}

	_, err := NewProber(DefaultProbeRules()).Probe(doc)
	require.ErrorIs(t, err, ErrSourceTooLarge)
	assert.Zero(t, doc.scans, "probe must reject before scanning")
}
