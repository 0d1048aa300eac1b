package output

import (
	"encoding/json"
	"time"

	"github.com/halvorsenlars/tracepath/internal/tracesession"
)

// JSONFormatter formats session results as JSON.
type JSONFormatter struct {
	config Config
	pretty bool
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(config Config) *JSONFormatter {
	return &JSONFormatter{
		config: config,
		pretty: true,
	}
}

// NewJSONFormatterCompact creates a JSON formatter with compact output.
func NewJSONFormatterCompact(config Config) *JSONFormatter {
	return &JSONFormatter{
		config: config,
		pretty: false,
	}
}

// SetPretty enables or disables pretty-printing.
func (f *JSONFormatter) SetPretty(pretty bool) {
	f.pretty = pretty
}

// Format formats the session result as JSON.
func (f *JSONFormatter) Format(result *tracesession.SessionResult) ([]byte, error) {
	output := f.toJSONOutput(result)

	if f.pretty {
		return json.MarshalIndent(output, "", "  ")
	}
	return json.Marshal(output)
}

// JSONOutput is the JSON-serializable representation of a session result.
type JSONOutput struct {
	TargetHostname string      `json:"target_hostname"`
	TargetAddress  string      `json:"target_address"`
	MaxHops        int         `json:"max_hops"`
	ActualHops     int         `json:"actual_hops"`
	TotalTimeMs    float64     `json:"total_time_ms"`
	ReachedTarget  bool        `json:"reached_target"`
	Hops           []JSONHop   `json:"hops"`
	Statistics     JSONStats   `json:"statistics"`
}

// JSONHop represents a single HopResult in JSON format.
type JSONHop struct {
	Hop           int     `json:"hop"`
	Router        string  `json:"router,omitempty"`
	RTTMs         float64 `json:"rtt_ms,omitempty"`
	IsDestination bool    `json:"is_destination"`
	IsTimeout     bool    `json:"is_timeout"`
	Sequence      int     `json:"sequence"`
	ProbeIndex    int     `json:"probe_index"`
}

// JSONStats represents the derived Statistics view in JSON format.
type JSONStats struct {
	ProbesSent        int     `json:"probes_sent"`
	ResponsesReceived int     `json:"responses_received"`
	Timeouts          int     `json:"timeouts"`
	LossPercent       float64 `json:"loss_percent"`
	MinRTTMs          float64 `json:"min_rtt_ms"`
	AvgRTTMs          float64 `json:"avg_rtt_ms"`
	MaxRTTMs          float64 `json:"max_rtt_ms"`
}

func (f *JSONFormatter) toJSONOutput(result *tracesession.SessionResult) *JSONOutput {
	output := &JSONOutput{
		TargetHostname: result.TargetHostname,
		MaxHops:        int(result.MaxHops),
		ActualHops:     int(result.ActualHops),
		TotalTimeMs:    roundFloat(msOf(result.TotalTime), 3),
		ReachedTarget:  result.ReachedTarget,
		Hops:           make([]JSONHop, len(result.Hops)),
		Statistics:     toJSONStats(result.Statistics),
	}
	if result.TargetAddress != nil {
		output.TargetAddress = result.TargetAddress.String()
	}

	for i, hop := range result.Hops {
		output.Hops[i] = toJSONHop(hop)
	}

	return output
}

func toJSONHop(hop tracesession.HopResult) JSONHop {
	jh := JSONHop{
		Hop:           int(hop.HopNumber),
		IsDestination: hop.IsDestination,
		IsTimeout:     hop.IsTimeout,
		Sequence:      int(hop.Sequence),
		ProbeIndex:    int(hop.ProbeIndex),
	}
	if hop.Router != nil {
		jh.Router = hop.Router.String()
	}
	if !hop.IsTimeout {
		jh.RTTMs = roundFloat(msOf(hop.RTT), 3)
	}
	return jh
}

func toJSONStats(s tracesession.Statistics) JSONStats {
	return JSONStats{
		ProbesSent:        s.ProbesSent,
		ResponsesReceived: s.ResponsesReceived,
		Timeouts:          s.Timeouts,
		LossPercent:       roundFloat(s.LossPct, 1),
		MinRTTMs:          roundFloat(msOf(s.MinRTT), 3),
		AvgRTTMs:          roundFloat(msOf(s.AvgRTT), 3),
		MaxRTTMs:          roundFloat(msOf(s.MaxRTT), 3),
	}
}

// ContentType returns the MIME type for JSON output.
func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// FileExtension returns the file extension for JSON output.
func (f *JSONFormatter) FileExtension() string {
	return "json"
}

func msOf(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// roundFloat rounds val to precision decimal places.
func roundFloat(val float64, precision int) float64 {
	if precision == 0 {
		return float64(int(val + 0.5))
	}
	p := float64(1)
	for i := 0; i < precision; i++ {
		p *= 10
	}
	return float64(int(val*p+0.5)) / p
}
