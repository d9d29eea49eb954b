package web

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/recimport/internal/importer"
)

// maxPageFailures caps the failure rows rendered on the run page; the full
// list is in the CSV report.
const maxPageFailures = 100

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title>`+
			`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}.alert{border:1px solid #c00;padding:1rem}</style>`+
			`</head><body>`, templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func errorAlert(msg importer.UserMessage, requestID string) templ.Component {
	return layout("Error", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="alert"><p><strong>%s</strong></p>`, templ.EscapeString(msg.Message))
		if err != nil {
			return err
		}
		if msg.Action != "" {
			if _, err := fmt.Fprintf(w, `<p>%s</p>`, templ.EscapeString(msg.Action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<p><small>Code %s`, templ.EscapeString(msg.Code))
		if err == nil && requestID != "" {
			_, err = fmt.Fprintf(w, ` &middot; request %s`, templ.EscapeString(requestID))
		}
		if err == nil {
			_, err = io.WriteString(w, `</small></p></div>`)
		}
		return err
	}))
}

// runPage shows a run. sum is nil while the run is in flight.
func runPage(p importer.Progress, sum *importer.Summary) templ.Component {
	return layout("Run "+p.RunID, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<h1>%s</h1><table>`, templ.EscapeString(p.Job))
		ew.row("Run", p.RunID)
		ew.row("Status", string(p.Status))
		ew.row("Records", strconv.Itoa(p.Records))
		ew.row("Written", strconv.Itoa(p.Written))
		ew.row("Rejected", strconv.Itoa(p.Rejected))
		if sum == nil {
			ew.row("Progress", strconv.Itoa(p.Percent)+"%")
		} else {
			ew.row("File", sum.FileName)
			ew.row("Table", sum.Table)
			ew.row("Duration", strconv.FormatInt(sum.DurationMs, 10)+" ms")
		}
		ew.printf(`</table>`)

		if sum != nil && sum.UserError != nil {
			ew.printf(`<div class="alert"><p>%s</p><p>%s</p></div>`,
				templ.EscapeString(sum.UserError.Message), templ.EscapeString(sum.UserError.Action))
		}
		if sum != nil && len(sum.Failures) > 0 {
			ew.printf(`<h2>Rejected records</h2><p><a href="/api/runs/%s/failures">Download CSV</a></p>`,
				templ.EscapeString(p.RunID))
			ew.printf(`<table><tr><th>Record</th><th>Stage</th><th>Reason</th></tr>`)
			for i, f := range sum.Failures {
				if i == maxPageFailures {
					break
				}
				ew.printf(`<tr><td>%d</td><td>%s</td><td>%s</td></tr>`,
					f.Index+1, templ.EscapeString(string(f.Stage)), templ.EscapeString(f.Fields.Error()))
			}
			ew.printf(`</table>`)
		}
		return ew.err
	}))
}

// errWriter keeps the first write error so page bodies read straight.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) row(label, value string) {
	e.printf(`<tr><th>%s</th><td>%s</td></tr>`, templ.EscapeString(label), templ.EscapeString(value))
}
