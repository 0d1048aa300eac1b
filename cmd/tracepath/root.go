package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	forceIPv4 bool
	forceIPv6 bool
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "tracepath",
	Short: "ICMP-based network path discovery",
	Long: `tracepath discovers the sequence of routers between the local host and a
target by sending ICMP Echo Request probes with progressively larger
TTL/hop-limit values and correlating the Time Exceeded and Echo Reply
messages that come back.

Examples:
  tracepath trace example.com        Trace the route to example.com
  tracepath trace -v 1.1.1.1         Trace with a detailed table report
  tracepath ping example.com         Continuous ping, one probe per second
  tracepath ping -c 5 example.com    Stop after five intervals plus the grace period`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&forceIPv4, "ipv4", "4", false, "Use IPv4 only")
	rootCmd.PersistentFlags().BoolVarP(&forceIPv6, "ipv6", "6", false, "Use IPv6 only")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tracepath %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}
