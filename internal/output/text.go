package output

import (
	"bytes"
	"fmt"

	"github.com/fatih/color"
	"github.com/halvorsenlars/tracepath/internal/tracesession"
)

// TextFormatter formats session results in classic traceroute style.
type TextFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTextFormatter creates a new text formatter.
func NewTextFormatter(config Config) *TextFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TextFormatter{
		config: config,
		colors: colors,
	}
}

// Format formats the session result as classic traceroute text output.
func (f *TextFormatter) Format(result *tracesession.SessionResult) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "traceroute to %s (%s), %d hops max\n\n",
		result.TargetHostname, result.TargetAddress, result.MaxHops)

	for _, line := range groupByHop(result.Hops) {
		f.formatLine(&buf, line)
	}

	buf.WriteString("\n")
	if result.ReachedTarget {
		fmt.Fprintf(&buf, "Trace complete. %d hops, %.2f ms total\n",
			result.ActualHops, float64(result.TotalTime.Microseconds())/1000)
	} else {
		fmt.Fprintf(&buf, "Trace incomplete after %d hops\n", result.ActualHops)
	}

	return buf.Bytes(), nil
}

// FormatHop formats a single streamed HopResult so a caller can print it as
// soon as Observer.OnHopCompleted fires, without waiting for the terminal
// SessionResult.
func (f *TextFormatter) FormatHop(hop tracesession.HopResult) string {
	var buf bytes.Buffer
	f.formatLine(&buf, hopLine{Number: hop.HopNumber, Router: routerString(hop), Results: []tracesession.HopResult{hop}})
	return buf.String()
}

func routerString(hop tracesession.HopResult) string {
	if hop.Router == nil {
		return ""
	}
	return hop.Router.String()
}

// formatLine formats one grouped hop line.
func (f *TextFormatter) formatLine(buf *bytes.Buffer, line hopLine) {
	hopNum := fmt.Sprintf("%3d  ", line.Number)
	if f.colors != nil {
		hopNum = f.colors.Hop.Sprint(hopNum)
	}
	buf.WriteString(hopNum)

	if line.Router == "" {
		timeout := "* * *"
		if f.colors != nil {
			timeout = f.colors.Timeout.Sprint(timeout)
		}
		buf.WriteString(timeout)
		buf.WriteString("\n")
		return
	}

	ipStr := line.Router
	if f.colors != nil {
		ipStr = f.colors.IP.Sprint(ipStr)
	}
	fmt.Fprintf(buf, "%s  ", ipStr)

	for _, r := range line.Results {
		if r.IsTimeout {
			timeout := "*"
			if f.colors != nil {
				timeout = f.colors.Timeout.Sprint(timeout)
			}
			fmt.Fprintf(buf, "%s  ", timeout)
			continue
		}
		fmt.Fprintf(buf, "%s  ", f.colorizeRTT(r.RTT.Seconds()*1000))
	}

	buf.WriteString("\n")
}

// colorizeRTT returns a colored RTT string based on latency thresholds.
func (f *TextFormatter) colorizeRTT(rttMs float64) string {
	str := fmt.Sprintf("%.3f ms", rttMs)
	if f.colors == nil {
		return str
	}

	switch {
	case rttMs < 50:
		return f.colors.RTTLow.Sprint(str)
	case rttMs < 150:
		return f.colors.RTTMed.Sprint(str)
	default:
		return f.colors.RTTHigh.Sprint(str)
	}
}

// ContentType returns the MIME type for text output.
func (f *TextFormatter) ContentType() string {
	return "text/plain"
}

// FileExtension returns the file extension for text output.
func (f *TextFormatter) FileExtension() string {
	return "txt"
}

// ColorScheme defines colors for different output elements.
type ColorScheme struct {
	Hop     *color.Color
	IP      *color.Color
	RTTLow  *color.Color // < 50ms
	RTTMed  *color.Color // 50-150ms
	RTTHigh *color.Color // >= 150ms
	Timeout *color.Color
	Header  *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Hop:     color.New(color.FgCyan, color.Bold),
		IP:      color.New(color.FgWhite),
		RTTLow:  color.New(color.FgGreen),
		RTTMed:  color.New(color.FgYellow),
		RTTHigh: color.New(color.FgRed),
		Timeout: color.New(color.FgRed, color.Bold),
		Header:  color.New(color.FgWhite, color.Bold),
	}
}
