package output

import (
	"encoding/csv"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/halvorsenlars/tracepath/internal/tracesession"
)

func sampleSessionResult() *tracesession.SessionResult {
	return &tracesession.SessionResult{
		TargetHostname: "example.com",
		TargetAddress:  net.ParseIP("93.184.216.34"),
		MaxHops:        30,
		ActualHops:     3,
		TotalTime:      27 * time.Millisecond,
		ReachedTarget:  true,
		Hops: []tracesession.HopResult{
			{HopNumber: 1, Router: net.ParseIP("10.0.0.1"), RTT: 2 * time.Millisecond, Sequence: 0, ProbeIndex: 0},
			{HopNumber: 2, IsTimeout: true, RTT: time.Second, Sequence: 1, ProbeIndex: 0},
			{HopNumber: 3, Router: net.ParseIP("93.184.216.34"), RTT: 20 * time.Millisecond, IsDestination: true, Sequence: 2, ProbeIndex: 0},
		},
		Statistics: tracesession.Statistics{
			ProbesSent:        3,
			ResponsesReceived: 2,
			Timeouts:          1,
			LossPct:           33.3,
			MinRTT:            2 * time.Millisecond,
			AvgRTT:            11 * time.Millisecond,
			MaxRTT:            20 * time.Millisecond,
		},
	}
}

func TestTextFormatter(t *testing.T) {
	formatter := NewTextFormatter(Config{Colors: false})
	result := sampleSessionResult()

	data, err := formatter.Format(result)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	output := string(data)
	if !strings.Contains(output, "traceroute to example.com") {
		t.Error("output should contain target hostname in header")
	}
	if !strings.Contains(output, "10.0.0.1") {
		t.Error("output should contain hop 1's router")
	}
	if !strings.Contains(output, "* * *") {
		t.Error("output should render hop 2's timeout as * * *")
	}
	if !strings.Contains(output, "Trace complete") {
		t.Error("output should report trace completion")
	}
}

func TestTextFormatterFormatHop(t *testing.T) {
	formatter := NewTextFormatter(Config{Colors: false})

	line := formatter.FormatHop(tracesession.HopResult{HopNumber: 2, IsTimeout: true})
	if !strings.Contains(line, "2") || !strings.Contains(line, "* * *") {
		t.Errorf("FormatHop timeout line = %q", line)
	}

	line = formatter.FormatHop(tracesession.HopResult{HopNumber: 1, Router: net.ParseIP("10.0.0.1"), RTT: 2 * time.Millisecond})
	if !strings.Contains(line, "10.0.0.1") || !strings.Contains(line, "2.000 ms") {
		t.Errorf("FormatHop reply line = %q", line)
	}
}

func TestJSONFormatter(t *testing.T) {
	formatter := NewJSONFormatter(Config{})
	result := sampleSessionResult()

	data, err := formatter.Format(result)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var decoded JSONOutput
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.TargetHostname != "example.com" {
		t.Errorf("TargetHostname = %q, want example.com", decoded.TargetHostname)
	}
	if len(decoded.Hops) != 3 {
		t.Fatalf("len(Hops) = %d, want 3", len(decoded.Hops))
	}
	if !decoded.Hops[2].IsDestination {
		t.Error("third hop should be marked as destination")
	}
	if decoded.Statistics.ProbesSent != 3 {
		t.Errorf("Statistics.ProbesSent = %d, want 3", decoded.Statistics.ProbesSent)
	}
}

func TestCSVFormatter(t *testing.T) {
	formatter := NewCSVFormatter(Config{})
	result := sampleSessionResult()

	data, err := formatter.Format(result)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 4 { // header + 3 hops
		t.Fatalf("len(records) = %d, want 4", len(records))
	}
	if records[0][0] != "hop" {
		t.Errorf("header[0] = %q, want hop", records[0][0])
	}
	if records[2][1] != "*" {
		t.Errorf("timeout row router = %q, want *", records[2][1])
	}
}

func TestTableFormatter(t *testing.T) {
	formatter := NewTableFormatter(Config{Colors: false})
	result := sampleSessionResult()

	data, err := formatter.Format(result)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	output := string(data)
	if !strings.Contains(output, "example.com") {
		t.Error("output should contain target hostname")
	}
	if !strings.Contains(output, "Complete") {
		t.Error("output should report completion status")
	}
}

func TestNewFormatter(t *testing.T) {
	cases := []struct {
		format Format
		want   string
	}{
		{FormatText, "text/plain"},
		{FormatVerbose, "text/plain"},
		{FormatJSON, "application/json"},
		{FormatCSV, "text/csv"},
	}
	for _, c := range cases {
		f := NewFormatter(c.format, DefaultConfig())
		if got := f.ContentType(); got != c.want {
			t.Errorf("NewFormatter(%v).ContentType() = %q, want %q", c.format, got, c.want)
		}
	}
}
