package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

// TextReporter generates human-readable run summaries
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// Generate writes a text summary
func (r *TextReporter) Generate(data Summary) error {
	// Header
	fmt.Fprintf(r.writer, "CX1 Export Summary\n")
	fmt.Fprintf(r.writer, "==================\n\n")
	fmt.Fprintf(r.writer, "Run: %s\n", data.RunID)
	fmt.Fprintf(r.writer, "Time: %s\n", data.Timestamp.Format("2006-01-02 15:04:05"))
	if data.Config.Tenant != "" {
		fmt.Fprintf(r.writer, "Tenant: %s\n", data.Config.Tenant)
	}
	if data.Config.FromDate != "" || data.Config.ToDate != "" {
		fmt.Fprintf(r.writer, "Range: %s to %s\n", orDash(data.Config.FromDate), orDash(data.Config.ToDate))
	}
	fmt.Fprintf(r.writer, "Mode: %s, output: %s, threads: %d\n", data.Config.Mode, data.Config.Output, data.Config.ThreadCount)
	fmt.Fprintf(r.writer, "\n")

	r.printSources(data.Sources)
	r.printTables(data.Tables)
	r.printFiles(data)
	r.printOutcome(data)

	return nil
}

func (r *TextReporter) printSources(sources []SourceResult) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(r.writer, "Sources\n")
	fmt.Fprintf(r.writer, "-------\n")
	for _, s := range sources {
		if s.Error != "" {
			fmt.Fprintf(r.writer, "  %s %s: %s\n", color.RedString("[FAILED]"), s.Name, s.Error)
			continue
		}
		fmt.Fprintf(r.writer, "  %s %s: %d records in %d pages\n", color.GreenString("[OK]"), s.Name, s.Records, s.Pages)
	}
	fmt.Fprintf(r.writer, "\n")
}

func (r *TextReporter) printTables(tables []TableResult) {
	if len(tables) == 0 {
		return
	}
	fmt.Fprintf(r.writer, "Tables\n")
	fmt.Fprintf(r.writer, "%s\n", strings.Repeat("-", 50))
	for _, t := range tables {
		if t.Error != "" {
			fmt.Fprintf(r.writer, "  %s %s: %s\n", color.RedString("[NOT WRITTEN]"), t.Name, t.Error)
			continue
		}
		fmt.Fprintf(r.writer, "  %-20s %6d rows  %3d columns\n", t.Name, t.Rows, t.Columns)
	}
	fmt.Fprintf(r.writer, "\n")
}

func (r *TextReporter) printFiles(data Summary) {
	if len(data.Files) > 0 {
		fmt.Fprintf(r.writer, "Files\n")
		fmt.Fprintf(r.writer, "-----\n")
		for _, f := range data.Files {
			fmt.Fprintf(r.writer, "  %s\n", f)
		}
		fmt.Fprintf(r.writer, "\n")
	}
	if len(data.Archived) > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.CyanString("Archived"))
		for _, k := range data.Archived {
			fmt.Fprintf(r.writer, "  %s\n", k)
		}
		fmt.Fprintf(r.writer, "\n")
	}
}

func (r *TextReporter) printOutcome(data Summary) {
	if data.Warnings > 0 {
		fmt.Fprintf(r.writer, "%s: %d (see log for details)\n", color.YellowString("Warnings"), data.Warnings)
	}
	if len(data.Errors) > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.RedString("Errors"))
		for _, e := range data.Errors {
			fmt.Fprintf(r.writer, "  - %s\n", e)
		}
	}
	state := color.GreenString(data.State)
	if data.State != "WRITTEN" {
		state = color.RedString(data.State)
	}
	fmt.Fprintf(r.writer, "State: %s (%s)\n", state, data.Duration.Round(time.Millisecond))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
