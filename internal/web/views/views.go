// Package views renders the HTML fragments swapped in by htmx clients.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

// writer collects the first write error so fragments can be written
// without checking every call.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// text writes s HTML-escaped.
func (w *writer) text(s string) {
	w.printf("%s", templ.EscapeString(s))
}

// ErrorAlert renders a dismissible error box with the support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<div class="alert alert-error" role="alert">`)
		w.printf(`<p class="alert-message">`)
		w.text(message)
		w.printf(`</p>`)
		if action != "" {
			w.printf(`<p class="alert-action">`)
			w.text(action)
			w.printf(`</p>`)
		}
		if code != "" {
			w.printf(`<p class="alert-code">Code: `)
			w.text(code)
			w.printf(`</p>`)
		}
		w.printf(`</div>`)
		return w.err
	})
}

// PreviewFragment renders the column types, suggested mapping, quality
// issues and sample rows of a preview.
func PreviewFragment(p *core.Preview) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		types := p.ColumnTypes.Map()

		w.printf(`<section class="preview" data-sheet="`)
		w.text(p.Sheet)
		w.printf(`">`)
		w.printf(`<header><h2>`)
		w.text(p.Sheet)
		w.printf(`</h2><span class="quality %s">Quality %d/100</span>`, qualityClass(p.QualityScore), p.QualityScore)
		w.printf(`<span class="rows">%s rows</span></header>`, strconv.Itoa(p.TotalRows))

		w.printf(`<table class="mapping"><thead><tr><th>Column</th><th>Type</th><th>Field</th></tr></thead><tbody>`)
		for _, col := range p.Columns {
			w.printf(`<tr><td>`)
			w.text(col)
			w.printf(`</td><td>`)
			w.text(string(types[col]))
			w.printf(`</td><td>`)
			w.text(string(targetOf(p.SuggestedMapping, col)))
			w.printf(`</td></tr>`)
		}
		w.printf(`</tbody></table>`)

		if len(p.Issues) > 0 {
			w.printf(`<ul class="issues">`)
			for _, issue := range p.Issues {
				w.printf(`<li class="severity-%s">`, templ.EscapeString(string(issue.Severity)))
				w.text(issue.Description)
				w.printf(`</li>`)
			}
			w.printf(`</ul>`)
		}

		if len(p.SampleRows) > 0 {
			w.printf(`<table class="sample"><thead><tr>`)
			for _, col := range p.Columns {
				w.printf(`<th>`)
				w.text(col)
				w.printf(`</th>`)
			}
			w.printf(`</tr></thead><tbody>`)
			for _, row := range p.SampleRows {
				w.printf(`<tr>`)
				for _, col := range p.Columns {
					w.printf(`<td>`)
					w.text(row[col])
					w.printf(`</td>`)
				}
				w.printf(`</tr>`)
			}
			w.printf(`</tbody></table>`)
		}

		w.printf(`</section>`)
		return w.err
	})
}

// JobSummary renders the status line of an import job.
func JobSummary(job core.ImportJob) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<div class="job status-%s" id="job-%s">`, templ.EscapeString(string(job.Status)), job.ID)
		w.printf(`<progress max="100" value="%d"></progress>`, job.Percent())
		w.printf(`<p>%d of %d rows: %d imported, %d failed, %d skipped</p>`,
			job.Processed, job.TotalRows, job.Imported, job.Failed, job.Skipped)
		if job.Error != "" {
			w.printf(`<p class="job-error">`)
			w.text(job.Error)
			w.printf(`</p>`)
		}
		w.printf(`</div>`)
		return w.err
	})
}

func targetOf(m ingest.FieldMapping, column string) ingest.Target {
	if t, ok := m[column]; ok {
		return t
	}
	return ingest.TargetIgnore
}

func qualityClass(score int) string {
	switch {
	case score >= 80:
		return "good"
	case score >= 50:
		return "fair"
	default:
		return "poor"
	}
}
