package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/halvorsenlars/tracepath/internal/tracesession"
)

// CSVFormatter formats session results as CSV, one row per HopResult.
type CSVFormatter struct {
	config  Config
	columns []string
}

// Default CSV columns.
var defaultCSVColumns = []string{
	"hop", "router", "sequence", "probe_index", "rtt_ms", "is_destination", "is_timeout",
}

// NewCSVFormatter creates a new CSV formatter.
func NewCSVFormatter(config Config) *CSVFormatter {
	return &CSVFormatter{
		config:  config,
		columns: defaultCSVColumns,
	}
}

// SetColumns allows customizing which columns to include.
func (f *CSVFormatter) SetColumns(columns []string) {
	f.columns = columns
}

// Format formats the session result as CSV.
func (f *CSVFormatter) Format(result *tracesession.SessionResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(f.columns); err != nil {
		return nil, err
	}

	for _, hop := range result.Hops {
		row := f.formatRow(hop)
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// formatRow formats a single HopResult as a CSV row.
func (f *CSVFormatter) formatRow(hop tracesession.HopResult) []string {
	row := make([]string, len(f.columns))
	for i, col := range f.columns {
		row[i] = f.getValue(hop, col)
	}
	return row
}

// getValue returns the value for a specific column.
func (f *CSVFormatter) getValue(hop tracesession.HopResult, column string) string {
	switch column {
	case "hop":
		return strconv.Itoa(int(hop.HopNumber))

	case "router":
		if hop.Router != nil {
			return hop.Router.String()
		}
		return "*"

	case "sequence":
		return strconv.Itoa(int(hop.Sequence))

	case "probe_index":
		return strconv.Itoa(int(hop.ProbeIndex))

	case "rtt_ms":
		if hop.IsTimeout {
			return ""
		}
		return formatFloat(msOf(hop.RTT))

	case "is_destination":
		return strconv.FormatBool(hop.IsDestination)

	case "is_timeout":
		return strconv.FormatBool(hop.IsTimeout)

	default:
		return ""
	}
}

// formatFloat formats a float for CSV output.
func formatFloat(f float64) string {
	if f <= 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", f)
}

// ContentType returns the MIME type for CSV output.
func (f *CSVFormatter) ContentType() string {
	return "text/csv"
}

// FileExtension returns the file extension for CSV output.
func (f *CSVFormatter) FileExtension() string {
	return "csv"
}
