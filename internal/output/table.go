package output

import (
	"bytes"
	"fmt"

	"github.com/halvorsenlars/tracepath/internal/tracesession"
	"github.com/olekukonko/tablewriter"
)

// TableFormatter formats session results as a detailed table.
type TableFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(config Config) *TableFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TableFormatter{
		config: config,
		colors: colors,
	}
}

// Format formats the session result as a detailed table.
func (f *TableFormatter) Format(result *tracesession.SessionResult) ([]byte, error) {
	var buf bytes.Buffer

	f.writeHeader(&buf, result)

	table := tablewriter.NewWriter(&buf)
	f.configureTable(table)
	table.SetHeader([]string{"Hop", "Router", "Avg", "Min", "Max", "Loss", "Status"})

	for _, line := range groupByHop(result.Hops) {
		table.Append(f.formatLineRow(line))
	}

	table.Render()

	f.writeSummary(&buf, result)

	return buf.Bytes(), nil
}

// writeHeader writes the trace header information.
func (f *TableFormatter) writeHeader(buf *bytes.Buffer, result *tracesession.SessionResult) {
	header := fmt.Sprintf("Target: %s (%s)\n", result.TargetHostname, result.TargetAddress)
	header += fmt.Sprintf("Max hops: %d\n\n", result.MaxHops)

	if f.colors != nil {
		header = f.colors.Header.Sprint(header)
	}
	buf.WriteString(header)
}

// configureTable sets up the table appearance.
func (f *TableFormatter) configureTable(table *tablewriter.Table) {
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetTablePadding(" ")
}

// formatLineRow formats one grouped hop line as a table row, aggregating
// its RTTs the same way the derived Statistics view aggregates a whole
// session's latencies.
func (f *TableFormatter) formatLineRow(line hopLine) []string {
	row := []string{fmt.Sprintf("%d", line.Number)}

	if line.Router == "" {
		row = append(row, "*")
	} else {
		row = append(row, line.Router)
	}

	var minMs, maxMs, sumMs float64
	n := 0
	destination := false
	for _, r := range line.Results {
		if r.IsTimeout {
			continue
		}
		ms := msOf(r.RTT)
		if n == 0 || ms < minMs {
			minMs = ms
		}
		if n == 0 || ms > maxMs {
			maxMs = ms
		}
		sumMs += ms
		n++
		destination = destination || r.IsDestination
	}

	if n > 0 {
		avgMs := sumMs / float64(n)
		row = append(row, f.formatRTT(avgMs), f.formatRTT(minMs), f.formatRTT(maxMs))
	} else {
		row = append(row, "-", "-", "-")
	}

	lossPct := 100 * float64(len(line.Results)-n) / float64(len(line.Results))
	row = append(row, fmt.Sprintf("%.0f%%", lossPct))

	switch {
	case destination:
		row = append(row, "destination")
	case n == 0:
		row = append(row, "timeout")
	default:
		row = append(row, "")
	}

	return row
}

// formatRTT formats an RTT value (in milliseconds) with optional coloring.
func (f *TableFormatter) formatRTT(rttMs float64) string {
	if rttMs <= 0 {
		return "-"
	}

	str := fmt.Sprintf("%.2f", rttMs)

	if f.colors != nil {
		switch {
		case rttMs < 50:
			str = f.colors.RTTLow.Sprint(str)
		case rttMs < 150:
			str = f.colors.RTTMed.Sprint(str)
		default:
			str = f.colors.RTTHigh.Sprint(str)
		}
	}

	return str
}

// writeSummary writes the trace summary.
func (f *TableFormatter) writeSummary(buf *bytes.Buffer, result *tracesession.SessionResult) {
	buf.WriteString("\nSummary:\n")

	stats := result.Statistics
	fmt.Fprintf(buf, "  Probes Sent:   %d\n", stats.ProbesSent)
	fmt.Fprintf(buf, "  Responses:     %d\n", stats.ResponsesReceived)
	fmt.Fprintf(buf, "  Timeouts:      %d\n", stats.Timeouts)
	fmt.Fprintf(buf, "  Total Time:    %.2f ms\n", msOf(result.TotalTime))
	fmt.Fprintf(buf, "  Packet Loss:   %.1f%%\n", stats.LossPct)

	buf.WriteString("  Status:        ")
	if result.ReachedTarget {
		status := "Complete"
		if f.colors != nil {
			status = f.colors.RTTLow.Sprint(status)
		}
		buf.WriteString(status)
	} else {
		status := "Incomplete"
		if f.colors != nil {
			status = f.colors.RTTHigh.Sprint(status)
		}
		buf.WriteString(status)
	}
	buf.WriteString("\n")
}

// ContentType returns the MIME type for table output.
func (f *TableFormatter) ContentType() string {
	return "text/plain"
}

// FileExtension returns the file extension for table output.
func (f *TableFormatter) FileExtension() string {
	return "txt"
}
