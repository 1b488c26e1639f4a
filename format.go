package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tonimelisma/onedrive-uploader/internal/batch"
)

// statusf prints a status message unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Stderr, cc.Flags.Quiet, format, args...)
}

// formatSize returns a human-readable IEC size string (e.g. "1.2 GiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatRate returns bytes per second over elapsed as a readable rate.
func formatRate(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "-"
	}

	return formatSize(int64(float64(bytes)/elapsed.Seconds())) + "/s"
}

// formatOutcome renders one per-file result line.
func formatOutcome(o batch.FileOutcome) string {
	name := o.Unit + "/" + o.FileName

	switch {
	case o.Skipped:
		return fmt.Sprintf("SKIP  %s: %v", name, o.Err)
	case o.Err != nil:
		return fmt.Sprintf("FAIL  %s: %v", name, o.Err)
	}

	line := fmt.Sprintf("OK    %s  %s in %s (%s)",
		name, formatSize(o.Size), o.Elapsed.Round(time.Second), formatRate(o.Size, o.Elapsed))

	if o.Attempts > 1 {
		line += fmt.Sprintf(" after %d attempts", o.Attempts)
	}

	if o.Verified {
		line += ", verified"
	}

	return line
}

// formatAge returns how long ago t was, e.g. "3 hours ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return humanize.Time(t)
}

// formatExpiry renders an epoch-seconds expiry relative to now, e.g.
// "59 minutes from now".
func formatExpiry(epoch int64) string {
	return humanize.Time(time.Unix(epoch, 0))
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws rows under headers with rounded borders.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}

	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			}
		}

		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}

		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}

	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderSummary tabulates a finished run.
func renderSummary(r *batch.Report) string {
	headers := []string{"Units", "Files", "Uploaded", "Failed", "Skipped", "Bytes", "Elapsed"}
	row := []string{
		fmt.Sprint(r.Units),
		fmt.Sprint(r.Files()),
		fmt.Sprint(r.Succeeded),
		fmt.Sprint(r.Failed),
		fmt.Sprint(r.Skipped),
		formatSize(r.Bytes),
		r.Elapsed.Round(time.Second).String(),
	}

	return renderTable(headers, [][]string{row},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
}
