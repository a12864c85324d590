package observability

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/careercraft/internal/db"
	"github.com/jonathan/careercraft/internal/format"
	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
	"github.com/jonathan/careercraft/internal/stats"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// barWidth is the number of cells in a progress bar
	barWidth = 24
	// maxNameWidth bounds file names in tables
	maxNameWidth = 28
)

// Printer handles formatted terminal output
type Printer struct {
	out     io.Writer
	verbose bool

	// lastStage avoids repeating the stage header on every sample
	lastStage string
	inline    bool
}

// NewPrinter creates a new Printer that writes to the given writer.
// Verbose printers show the stage plan and a box per stage change.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

// truncate shortens s to n runes, marking the cut with "..."
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// pad right-pads s with spaces to n runes
func pad(s string, n int) string {
	if gap := n - utf8.RuneCountInString(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to a terminal; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	inner := boxWidth - 4

	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(truncate(title, inner), inner))
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(truncate(line, inner), inner))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// ProgressBar renders a fixed-width bar for a percentage in [0, 100].
func ProgressBar(percent float64) string {
	percent = min(max(percent, 0), 100)
	filled := int(percent / 100 * barWidth)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

// ProgressLine renders a one-line summary of a snapshot.
func ProgressLine(snap pipeline.Snapshot) string {
	return fmt.Sprintf("%s %6s  %d/%d %s",
		ProgressBar(snap.Overall),
		format.Percent(snap.Overall),
		min(snap.StageIndex+1, snap.StageCount),
		snap.StageCount,
		snap.Message)
}

// PrintEvent renders a pipeline event. Sampled progress redraws the
// current line in place; lifecycle events start new lines.
//
//nolint:errcheck // writing to a terminal; errors are not recoverable
func (p *Printer) PrintEvent(event pipeline.ProgressEvent) {
	snap := event.Snapshot

	switch event.Type {
	case pipeline.EventStarted:
		p.lastStage = snap.StageID
		if p.verbose {
			p.PrintPlan(snap)
		}
		p.redraw(snap)

	case pipeline.EventStage, pipeline.EventProgress:
		if p.verbose && snap.StageID != p.lastStage {
			p.endLine()
			fmt.Fprintf(p.out, "Step %d/%d: %s\n", snap.StageIndex+1, snap.StageCount, snap.StageName)
		}
		p.lastStage = snap.StageID
		p.redraw(snap)

	case pipeline.EventComplete, pipeline.EventError:
		p.redraw(snap)
		p.endLine()
		if event.Record != nil {
			p.PrintRecord(*event.Record)
		}
	}
}

func (p *Printer) redraw(snap pipeline.Snapshot) {
	fmt.Fprintf(p.out, "\r%s", pad(ProgressLine(snap), boxWidth+20)) //nolint:errcheck
	p.inline = true
}

func (p *Printer) endLine() {
	if p.inline {
		fmt.Fprintln(p.out) //nolint:errcheck
		p.inline = false
	}
}

// PrintPlan outputs the stages a run will go through with their estimates.
func (p *Printer) PrintPlan(snap pipeline.Snapshot) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("File:  %s\n", snap.FileName))
	sb.WriteString(fmt.Sprintf("Kind:  %s\n\n", snap.Kind))

	for i, stage := range snap.Stages {
		sb.WriteString(fmt.Sprintf("%d. %s (~%s)", i+1, stage.Name, format.Duration(stage.Estimate().Seconds())))
		if i < len(snap.Stages)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("INGESTION PLAN", sb.String())
}

// PrintRecord outputs one record.
func (p *Printer) PrintRecord(rec records.Record) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", rec.ID))
	sb.WriteString(fmt.Sprintf("File:     %s\n", rec.OriginalName))
	sb.WriteString(fmt.Sprintf("Size:     %s\n", rec.SizeLabel))
	sb.WriteString(fmt.Sprintf("Uploaded: %s\n", rec.UploadDate))
	sb.WriteString(fmt.Sprintf("Status:   %s", statusLabel(rec.Status)))

	if rec.IndexedUnitCount != nil {
		sb.WriteString(fmt.Sprintf("\nChunks:   %d", *rec.IndexedUnitCount))
	}
	if rec.ProcessingDurationSeconds != nil {
		sb.WriteString(fmt.Sprintf("\nDuration: %s", format.Duration(*rec.ProcessingDurationSeconds)))
	}
	if rec.FilePath != "" {
		sb.WriteString(fmt.Sprintf("\nPath:     %s", rec.FilePath))
	}
	if rec.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("\nError:    %s", rec.ErrorMessage))
	}

	p.printBox(strings.ToUpper(rec.DisplayName), sb.String())
}

// PrintRecords outputs the collection as a table, newest first.
//
//nolint:errcheck // writing to a terminal; errors are not recoverable
func (p *Printer) PrintRecords(recs []records.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(p.out, "No saved resumes.")
		return
	}

	fmt.Fprintf(p.out, "%s  %s  %s  %s  %s  %s\n",
		pad("ID", 30), pad("NAME", maxNameWidth), pad("SIZE", 10), pad("STATUS", 10), pad("CHUNKS", 6), "DURATION")
	for _, rec := range recs {
		chunks, duration := "-", "-"
		if rec.IndexedUnitCount != nil {
			chunks = fmt.Sprintf("%d", *rec.IndexedUnitCount)
		}
		if rec.ProcessingDurationSeconds != nil {
			duration = format.Duration(*rec.ProcessingDurationSeconds)
		}
		fmt.Fprintf(p.out, "%s  %s  %s  %s  %s  %s\n",
			pad(rec.ID, 30),
			pad(truncate(rec.DisplayName, maxNameWidth), maxNameWidth),
			pad(rec.SizeLabel, 10),
			pad(string(rec.Status), 10),
			pad(chunks, 6),
			duration)
	}
}

// PrintStats outputs aggregate statistics.
func (p *Printer) PrintStats(s stats.AggregateStats) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Resumes:        %d\n", s.TotalRecords))
	sb.WriteString(fmt.Sprintf("Chunks indexed: %d\n", s.TotalIndexedUnits))
	sb.WriteString(fmt.Sprintf("Avg duration:   %s\n", format.Duration(s.AverageProcessingDuration)))
	sb.WriteString(fmt.Sprintf("Success rate:   %s", format.Percent(s.SuccessRatePercent)))
	if s.ProcessingRecords > 0 || s.FailedRecords > 0 {
		sb.WriteString(fmt.Sprintf("\n\nProcessing: %d  Failed: %d", s.ProcessingRecords, s.FailedRecords))
	}

	p.printBox("SAVED RESUMES", sb.String())
}

// PrintRuns outputs journaled runs.
//
//nolint:errcheck // writing to a terminal; errors are not recoverable
func (p *Printer) PrintRuns(runs []db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs recorded.")
		return
	}

	for _, run := range runs {
		line := fmt.Sprintf("%s  %s  %-9s  %s",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			pad(truncate(run.FileName, maxNameWidth), maxNameWidth),
			run.Status,
			run.ID)
		if run.CompletedAt != nil {
			line += "  " + format.Duration(run.CompletedAt.Sub(run.StartedAt).Seconds())
		}
		fmt.Fprintln(p.out, line)
	}
}

// PrintRun outputs one run with its completed stages.
func (p *Printer) PrintRun(run db.Run) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Record:  %s\n", run.RecordID))
	sb.WriteString(fmt.Sprintf("File:    %s (%s)\n", run.FileName, run.Kind))
	sb.WriteString(fmt.Sprintf("Status:  %s\n", run.Status))
	if run.ErrorMessage != nil {
		sb.WriteString(fmt.Sprintf("Error:   %s\n", *run.ErrorMessage))
	}
	sb.WriteString(fmt.Sprintf("\nStages completed: %d/%d", len(run.Stages), run.StageCount))
	for _, stage := range run.Stages {
		offset := stage.CompletedAt.Sub(run.StartedAt).Seconds()
		sb.WriteString(fmt.Sprintf("\n  ✓ %s (+%s)", stage.Stage, format.Duration(offset)))
	}

	p.printBox("RUN "+run.ID.String(), sb.String())
}

func statusLabel(s records.Status) string {
	switch s {
	case records.StatusAnalyzed:
		return "✓ analyzed"
	case records.StatusError:
		return "✗ error"
	default:
		return "… processing"
	}
}
