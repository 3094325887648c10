package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "stprobe",
	Short: "ST-Link debug probe tool",
	Long: `Discover and drive ST-Link V2/V2-1/V3 USB debug probes.

Examples:
  stprobe list                    # List connected probes
  stprobe info --index 0          # Open probe 0 and show firmware/target info
  stprobe reset --index 0         # Pulse the target reset line
  stprobe reset --index 0 --assert=true   # Hold the target in reset`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
