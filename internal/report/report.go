// Package report renders clean results, batch summaries and history
// entries for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

// Printer writes reports to one output. Colour follows whatever the
// output's terminal supports; plain writers get plain text.
type Printer struct {
	out io.Writer

	header lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
	warn   lipgloss.Style
	dim    lipgloss.Style
}

// New creates a Printer for out.
func New(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:    out,
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		failed: r.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

func (p *Printer) status(s string) string {
	switch s {
	case string(batch.StatusSucceeded):
		return p.ok.Render(s)
	case string(batch.StatusFailed):
		return p.failed.Render(s)
	case "cancelled":
		return p.warn.Render(s)
	default:
		return p.dim.Render(s)
	}
}

func size(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

func (p *Printer) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.dim).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// Listing prints the final top-level entries of a run directory, one per
// line.
func (p *Printer) Listing(res *pipeline.Result) {
	for _, name := range res.Listing {
		fmt.Fprintln(p.out, name)
	}
}

// CleanResult prints the listing followed by the stage counters.
func (p *Printer) CleanResult(res *pipeline.Result) {
	p.Listing(res)
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.header.Render("Cleaned "+res.RunDir))
	fmt.Fprintf(p.out, "Pruned      : %d\n", res.Pruned)
	fmt.Fprintf(p.out, "Checkpoints : %d scanned, %d deleted, %d kept (cutoff %d)\n", res.Scanned, res.Deleted, res.Kept, res.Cutoff)
	fmt.Fprintf(p.out, "Extracted   : %d\n", res.Extracted)
	fmt.Fprintf(p.out, "Swept       : %d\n", res.Swept)
	fmt.Fprintf(p.out, "Reclaimed   : %s\n", size(res.BytesReclaimed))

	if len(res.Retained) > 0 {
		fmt.Fprintln(p.out, p.warn.Render(fmt.Sprintf("Retained    : %d", len(res.Retained))))
		for _, dir := range res.Retained {
			fmt.Fprintf(p.out, "  - %s\n", dir)
		}
	}
	if len(res.Lost) > 0 {
		fmt.Fprintln(p.out, p.failed.Render(fmt.Sprintf("Lost        : %d", len(res.Lost))))
		for _, path := range res.Lost {
			fmt.Fprintf(p.out, "  - %s\n", path)
		}
	}
	if len(res.Failures) > 0 {
		fmt.Fprintln(p.out, p.failed.Render(fmt.Sprintf("Failures    : %d", len(res.Failures))))
		for _, f := range res.Failures {
			fmt.Fprintf(p.out, "  [%s] %s: %s\n", f.Stage, f.Path, f.Error)
		}
	}
}

// BatchSummary prints the per-directory table and the totals.
func (p *Printer) BatchSummary(sum *batch.Summary) {
	if sum.Total == 0 {
		fmt.Fprintln(p.out, "No subdirectories found in", sum.Root)
		return
	}

	t := p.newTable("Directory", "Status", "Extracted", "Reclaimed", "Reason")
	for _, o := range sum.Outcomes {
		extracted, reclaimed := "-", "-"
		if o.Result != nil {
			extracted = fmt.Sprint(o.Result.Extracted)
			reclaimed = size(o.Result.BytesReclaimed)
		}
		t.Row(o.Name, p.status(string(o.Status)), extracted, reclaimed, o.Reason)
	}
	fmt.Fprintln(p.out, t.Render())

	fmt.Fprintf(p.out, "Total: %d  Skipped: %d  Succeeded: %d  Failed: %d\n",
		sum.Total, sum.Skipped, sum.Succeeded, sum.Failed)
	if sum.Cancelled {
		fmt.Fprintln(p.out, p.warn.Render("Batch cancelled; remaining directories were not processed."))
	}
	if len(sum.Failures) > 0 {
		fmt.Fprintln(p.out, p.failed.Render("Failed directories:"))
		for _, f := range sum.Failures {
			fmt.Fprintf(p.out, "  - %s: %s\n", f.Name, f.Reason)
		}
	}
}

// RunList prints recorded runs, newest first.
func (p *Printer) RunList(runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No cleanup runs recorded.")
		return
	}
	t := p.newTable("ID", "Started", "Kind", "Target", "OK/Skip/Fail", "Reclaimed", "Status")
	for _, r := range runs {
		t.Row(
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Kind),
			r.Target,
			fmt.Sprintf("%d/%d/%d", r.Succeeded, r.Skipped, r.Failed),
			size(r.BytesReclaimed),
			p.status(r.Status()),
		)
	}
	fmt.Fprintln(p.out, t.Render())
}

// RunDetail prints one run and its per-directory outcomes.
func (p *Printer) RunDetail(r *history.Run) {
	fmt.Fprintf(p.out, "Run ID      : %s\n", r.ID)
	fmt.Fprintf(p.out, "Kind        : %s\n", r.Kind)
	fmt.Fprintf(p.out, "Target      : %s\n", r.Target)
	fmt.Fprintf(p.out, "Started     : %s\n", r.StartedAt.Local().Format(time.DateTime))
	if r.CompletedAt != nil {
		fmt.Fprintf(p.out, "Completed   : %s (%s)\n", r.CompletedAt.Local().Format(time.DateTime),
			r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	} else {
		fmt.Fprintf(p.out, "Completed   : <unknown>\n")
	}
	fmt.Fprintf(p.out, "Status      : %s\n", p.status(r.Status()))
	fmt.Fprintf(p.out, "Directories : %d total, %d skipped, %d succeeded, %d failed\n", r.Total, r.Skipped, r.Succeeded, r.Failed)
	fmt.Fprintf(p.out, "Reclaimed   : %s\n", size(r.BytesReclaimed))

	if len(r.Outcomes) == 0 {
		return
	}
	fmt.Fprintln(p.out)
	t := p.newTable("Directory", "Status", "Deleted", "Extracted", "Reclaimed", "Reason")
	for _, o := range r.Outcomes {
		t.Row(o.Name, p.status(o.Status), fmt.Sprint(o.Deleted), fmt.Sprint(o.Extracted), size(o.BytesReclaimed), o.Reason)
	}
	fmt.Fprintln(p.out, t.Render())
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
