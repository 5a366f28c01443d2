package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

// renderer writes command results as tables or JSON.
type renderer struct {
	w    io.Writer
	json bool
}

func newRenderer(w io.Writer, format string) *renderer {
	return &renderer{w: w, json: format == "json"}
}

func (r *renderer) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *renderer) table(title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	return t
}

func (r *renderer) probe(result *ingest.ProbeResult) error {
	if r.json {
		return r.encode(result)
	}

	t := r.table("", table.Row{"", "Sheet", "Rows", "Columns", "Density", "Est. Records"})
	for _, s := range result.Sheets {
		mark := ""
		if s.Name == result.RecommendedSheet {
			mark = "*"
		}
		density := "-"
		if s.DataDensity != nil {
			density = fmt.Sprintf("%.0f%%", *s.DataDensity*100)
		}
		t.AppendRow(table.Row{mark, s.Name, optionalInt(s.RowCount), s.ColumnCount, density, optionalInt(s.EstimatedRecordCount)})
	}
	t.Render()
	_, _ = fmt.Fprintf(r.w, "Recommended sheet: %s\n", result.RecommendedSheet)
	return nil
}

func (r *renderer) preview(p *core.Preview) error {
	if r.json {
		return r.encode(p)
	}

	types := p.ColumnTypes.Map()
	t := r.table(fmt.Sprintf("%s (%d rows)", p.Sheet, p.TotalRows), table.Row{"Column", "Type", "Field"})
	for _, col := range p.Columns {
		target, ok := p.SuggestedMapping[col]
		if !ok {
			target = ingest.TargetIgnore
		}
		t.AppendRow(table.Row{col, types[col], target})
	}
	t.Render()

	_, _ = fmt.Fprintf(r.w, "Quality score: %d/100\n", p.QualityScore)
	for _, issue := range p.Issues {
		_, _ = fmt.Fprintf(r.w, "  [%s] %s\n", issue.Severity, issue.Description)
	}

	if len(p.SampleRows) > 0 {
		header := make(table.Row, len(p.Columns))
		for i, col := range p.Columns {
			header[i] = col
		}
		sample := r.table("Sample", header)
		for _, row := range p.SampleRows {
			values := make(table.Row, len(p.Columns))
			for i, col := range p.Columns {
				values[i] = row[col]
			}
			sample.AppendRow(values)
		}
		sample.Render()
	}
	return nil
}

// importOutput is the JSON shape of an import result.
type importOutput struct {
	Job       core.ImportJob             `json:"job"`
	RowErrors []ingest.RowError          `json:"rowErrors"`
	Records   []ingest.TransactionRecord `json:"records,omitempty"`
	DryRun    bool                       `json:"dryRun"`
}

func (r *renderer) importResult(job core.ImportJob, rowErrors []ingest.RowError, records []ingest.TransactionRecord, dryRun bool) error {
	if r.json {
		return r.encode(importOutput{Job: job, RowErrors: rowErrors, Records: records, DryRun: dryRun})
	}

	t := r.table("Import "+job.ID.String(), table.Row{"Status", "Rows", "Imported", "Failed", "Skipped", "Quality"})
	t.AppendRow(table.Row{job.Status, job.TotalRows, job.Imported, job.Failed, job.Skipped, job.QualityScore})
	t.Render()
	if job.Error != "" {
		_, _ = fmt.Fprintf(r.w, "Error: %s (Code: %s)\n", job.Error, job.ErrorCode)
	}

	if len(rowErrors) > 0 {
		et := r.table("Row errors", table.Row{"Row", "Column", "Message"})
		for _, re := range rowErrors {
			et.AppendRow(table.Row{re.RowNumber, re.Column, re.Message})
		}
		et.Render()
	}

	if dryRun {
		_, _ = fmt.Fprintln(r.w, "Dry run: no database configured, records were not persisted")
		if len(records) > 0 {
			r.records(records)
		}
	}
	return nil
}

func (r *renderer) records(records []ingest.TransactionRecord) {
	t := r.table("Records", table.Row{"Row", "Date", "Amount", "Currency", "Description", "Extra"})
	for _, rec := range records {
		date := ""
		if rec.Date != nil {
			date = rec.Date.Format("2006-01-02")
		}
		amount := ""
		if rec.Amount.Valid {
			amount = rec.Amount.Decimal.String()
		}
		t.AppendRow(table.Row{rec.RowNumber, date, amount, rec.Currency, rec.Description, formatExtra(rec.Extra)})
	}
	t.Render()
}

func formatExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k + "=" + extra[k]
	}
	return out
}

func optionalInt(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}
