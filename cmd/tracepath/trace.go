package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
	"github.com/halvorsenlars/tracepath/internal/output"
	"github.com/halvorsenlars/tracepath/internal/reactor"
	"github.com/halvorsenlars/tracepath/internal/tracesession"
	"github.com/spf13/cobra"
)

var (
	traceMaxHops   int
	traceProbes    int
	traceTimeout   time.Duration
	traceGap       time.Duration
	traceJSON      bool
	traceCSV       bool
	traceVerbose   bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <host>",
	Short: "Discover the route to a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().IntVarP(&traceMaxHops, "max-hops", "m", 30, "Maximum TTL/hop-limit to probe")
	traceCmd.Flags().IntVarP(&traceProbes, "queries", "q", 3, "Probes sent per hop")
	traceCmd.Flags().DurationVarP(&traceTimeout, "timeout", "w", 5*time.Second, "Per-hop timeout")
	traceCmd.Flags().DurationVar(&traceGap, "gap", 10*time.Millisecond, "Delay between probes within a hop")
	traceCmd.Flags().BoolVarP(&traceVerbose, "verbose", "v", false, "Detailed table report instead of the streaming text line")
	traceCmd.Flags().BoolVarP(&traceJSON, "json", "j", false, "Output the final result as JSON")
	traceCmd.Flags().BoolVar(&traceCSV, "csv", false, "Output the final result as CSV")
}

func runTrace(cmd *cobra.Command, args []string) error {
	target := args[0]

	cfg := tracesession.DefaultSessionConfig()
	cfg.MaxHops = uint8(clamp(traceMaxHops, 1, 255))
	cfg.ProbesPerHop = uint8(clamp(traceProbes, 1, 10))
	cfg.PerHopTimeout = traceTimeout
	cfg.InterProbeGap = traceGap
	cfg.AddressStyle = addressStyle(forceIPv4, forceIPv6)
	if err := cfg.Validate(); err != nil {
		return err
	}

	outputConfig := output.Config{Colors: !noColor}
	streaming := !traceJSON && !traceCSV && !traceVerbose
	textFormatter := output.NewTextFormatter(outputConfig)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	loop := reactor.New()
	obs := &traceObserver{
		streaming: streaming,
		formatter: textFormatter,
		done:      make(chan struct{}),
	}

	session := tracesession.NewSession(cfg, loop, tracesession.NetResolver{}, obs, randomIdentifier())

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	if streaming {
		fmt.Printf("traceroute to %s, %d hops max\n\n", target, cfg.MaxHops)
	}

	if err := session.Start(ctx, target); err != nil {
		loop.Stop()
		return fmt.Errorf("trace failed: %w", err)
	}

	select {
	case <-obs.done:
	case <-ctx.Done():
		session.Stop()
		<-obs.done
	}
	loop.Stop()
	<-loopErr

	if obs.err != nil {
		return fmt.Errorf("trace failed: %w", obs.err)
	}

	return printTraceResult(obs.result, outputConfig, streaming)
}

func printTraceResult(result tracesession.SessionResult, cfg output.Config, streaming bool) error {
	var format output.Format
	switch {
	case traceJSON:
		format = output.FormatJSON
	case traceCSV:
		format = output.FormatCSV
	case traceVerbose:
		format = output.FormatVerbose
	default:
		if streaming {
			fmt.Println()
			if result.ReachedTarget {
				fmt.Printf("Trace complete. %d hops, %.2f ms total\n", result.ActualHops, msOf(result.TotalTime))
			} else {
				fmt.Printf("Trace incomplete after %d hops\n", result.ActualHops)
			}
			return nil
		}
		format = output.FormatText
	}

	writer := output.NewWriter(format, cfg)
	return writer.Write(&result)
}

// traceObserver adapts tracesession.Observer to the CLI: it prints each hop
// as it completes in streaming mode, and always records the terminal result
// so the caller can render a summary or a structured format afterward.
type traceObserver struct {
	tracesession.NoopObserver
	streaming bool
	formatter *output.TextFormatter

	done   chan struct{}
	result tracesession.SessionResult
	err    error
}

func (o *traceObserver) OnHopCompleted(hop tracesession.HopResult) {
	if o.streaming {
		fmt.Print(o.formatter.FormatHop(hop))
	}
}

func (o *traceObserver) OnFinished(result tracesession.SessionResult) {
	o.result = result
	close(o.done)
}

func (o *traceObserver) OnFailed(err error) {
	o.err = err
	close(o.done)
}

func addressStyle(v4, v6 bool) icmpwire.AddressStyle {
	switch {
	case v4:
		return icmpwire.V4Only
	case v6:
		return icmpwire.V6Only
	default:
		return icmpwire.Any
	}
}

func randomIdentifier() uint16 {
	return uint16(rand.Intn(1 << 16))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func msOf(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
