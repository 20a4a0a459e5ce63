// Package observability provides formatted output utilities for CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/chm/internal/ingest"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxFailuresToShow is the number of pipeline failures to display
	maxFailuresToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintIngestionSummary outputs a human-readable summary of one ingestion
// invocation: counts first, then the failed pipelines.
func (p *Printer) PrintIngestionSummary(summary *ingest.Summary) {
	if summary == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pipelines: %d processed, %d failed\n",
		summary.PipelinesProcessed, summary.PipelinesFailed))
	sb.WriteString(fmt.Sprintf("Pages:     %d fetched\n", summary.PagesFetched))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Runs:      %d created, %d updated\n", summary.RunsCreated, summary.RunsUpdated))
	sb.WriteString(fmt.Sprintf("           %d ignored, %d records skipped\n",
		summary.RunsIgnored, summary.RecordsSkipped))

	if !summary.FinishedAt.IsZero() && !summary.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("\nDuration:  %s", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond)))
	}

	p.printBox("INGESTION SUMMARY", sb.String())
	p.printFailures(summary.Failures)
}

// printFailures lists failed pipelines with their error category.
func (p *Printer) printFailures(failures []ingest.PipelineFailure) {
	if len(failures) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d failed pipelines:\n\n", len(failures)))

	count := min(len(failures), maxFailuresToShow)
	for i := 0; i < count; i++ {
		f := failures[i]
		detail := f.Error
		if len(detail) > 45 {
			detail = detail[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("⚠ %s (%s)\n", f.PipelineName, f.Category))
		sb.WriteString(fmt.Sprintf("  %s\n", detail))
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(failures) > maxFailuresToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more", len(failures)-maxFailuresToShow))
	}

	p.printBox("PIPELINE FAILURES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSettings outputs a settings map with stable key ordering. Values are
// expected to be pre-redacted by the caller.
func (p *Printer) PrintSettings(title string, settings map[string]any) {
	if len(settings) == 0 {
		return
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	width := 0
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%-*s  %v\n", width, k, settings[k]))
	}

	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}
