package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/halvorsenlars/tracepath/internal/reactor"
	"github.com/halvorsenlars/tracepath/internal/tracesession"
	"github.com/spf13/cobra"
)

var (
	pingInterval time.Duration
	pingCount    int
	pingTimeout  time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Continuously ping a host at a fixed TTL",
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().DurationVarP(&pingInterval, "interval", "i", time.Second, "Delay between probes")
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 0, "Stop after count × interval plus the grace period (0 = run until interrupted)")
	pingCmd.Flags().DurationVarP(&pingTimeout, "timeout", "w", 2*time.Second, "Grace period added to count × interval before stopping; probes are still sent during it")
}

func runPing(cmd *cobra.Command, args []string) error {
	target := args[0]

	cfg := tracesession.DefaultSessionConfig()
	cfg.AddressStyle = addressStyle(forceIPv4, forceIPv6)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if pingCount > 0 {
		deadline := time.Duration(pingCount)*pingInterval + pingTimeout
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, deadline)
		defer timeoutCancel()
	}

	loop := reactor.New()
	obs := &pingObserver{stopped: make(chan struct{})}
	pinger := tracesession.NewContinuousPinger(cfg, loop, tracesession.NetResolver{}, obs, randomIdentifier())

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	if err := pinger.Ping(ctx, target, pingInterval); err != nil {
		loop.Stop()
		return fmt.Errorf("ping failed: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-obs.stopped:
	}
	pinger.Stop()
	<-obs.stopped
	loop.Stop()
	<-loopErr

	return nil
}

// pingObserver implements tracesession.PingObserver for the ping verb,
// printing each reply or diagnostic as it arrives and the running summary
// once the pinger stops.
type pingObserver struct {
	stopped chan struct{}
	closed  bool
}

func (o *pingObserver) OnStarted(target net.IP) {
	fmt.Printf("PING %s\n", target)
}

func (o *pingObserver) OnReply(seq uint16, rtt time.Duration) {
	fmt.Printf("seq=%d time=%.3f ms\n", seq, msOf(rtt))
}

func (o *pingObserver) OnDiagnostic(description string) {
	fmt.Printf("  %s\n", description)
}

func (o *pingObserver) OnStatistics(tracesession.Statistics) {}

func (o *pingObserver) OnStopped(stats tracesession.Statistics) {
	fmt.Printf("\n--- statistics ---\n")
	fmt.Printf("%d probes sent, %d received, %.1f%% loss\n", stats.ProbesSent, stats.ResponsesReceived, stats.LossPct)
	if stats.ResponsesReceived > 0 {
		fmt.Printf("rtt min/avg/max = %.3f/%.3f/%.3f ms\n", msOf(stats.MinRTT), msOf(stats.AvgRTT), msOf(stats.MaxRTT))
	}
	o.finish()
}

func (o *pingObserver) OnFailed(err error) {
	fmt.Fprintf(os.Stderr, "ping error: %v\n", err)
	o.finish()
}

func (o *pingObserver) finish() {
	if !o.closed {
		o.closed = true
		close(o.stopped)
	}
}
