// Package output formats tracesession results for presentation: the classic
// streaming traceroute line, a detailed table, and machine-readable JSON
// and CSV.
package output

import (
	"github.com/halvorsenlars/tracepath/internal/tracesession"
)

// Format represents the output format type.
type Format int

const (
	// FormatText is the classic traceroute-style output.
	FormatText Format = iota
	// FormatVerbose is the detailed table output.
	FormatVerbose
	// FormatJSON is JSON output.
	FormatJSON
	// FormatCSV is CSV output.
	FormatCSV
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatVerbose:
		return "verbose"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// Formatter converts a finished SessionResult to formatted output bytes.
type Formatter interface {
	Format(result *tracesession.SessionResult) ([]byte, error)
	ContentType() string
	FileExtension() string
}

// Config holds configuration for formatters. Sessions report only numeric
// router addresses, so there is no hostname or ASN suppression knob here;
// nothing in a HopResult needs it.
type Config struct {
	// Colors enables ANSI color output.
	Colors bool
	// Width is the terminal width. No formatter reads it; 0 is not
	// auto-detected.
	Width int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Colors: true}
}

// NewFormatter creates a formatter based on the specified format.
func NewFormatter(format Format, config Config) Formatter {
	switch format {
	case FormatVerbose:
		return NewTableFormatter(config)
	case FormatJSON:
		return NewJSONFormatter(config)
	case FormatCSV:
		return NewCSVFormatter(config)
	default:
		return NewTextFormatter(config)
	}
}

// hopLine groups every HopResult sharing a HopNumber into one reported
// line, the grouping a classic traceroute display needs since a session
// emits one HopResult per probe rather than one row per hop. Replies are
// delivered in non-decreasing HopNumber order, and a late reply for an
// already-advanced hop is dropped before it reaches the Observer, so a
// single forward scan is enough to group them.
type hopLine struct {
	Number  uint8
	Router  string
	Results []tracesession.HopResult
}

func groupByHop(hops []tracesession.HopResult) []hopLine {
	var lines []hopLine
	for _, h := range hops {
		if n := len(lines); n > 0 && lines[n-1].Number == h.HopNumber {
			lines[n-1].Results = append(lines[n-1].Results, h)
			if lines[n-1].Router == "" && h.Router != nil {
				lines[n-1].Router = h.Router.String()
			}
			continue
		}
		router := ""
		if h.Router != nil {
			router = h.Router.String()
		}
		lines = append(lines, hopLine{Number: h.HopNumber, Router: router, Results: []tracesession.HopResult{h}})
	}
	return lines
}
