package cmd

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/stlink"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected ST-Link probes",
	Long: `Enumerate the USB bus and list every connected probe that matches
the catalog of known ST-Link variants. Indexes shown here are only valid
for the next command invocation while no device is re-plugged.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	usb := gousb.NewContext()
	defer usb.Close()

	candidates, err := stlink.Enumerate(usb, stlink.DefaultCatalog())
	if err != nil {
		return fmt.Errorf("enumeration failed: %w", err)
	}

	if len(candidates) == 0 {
		fmt.Println("No ST-Link probes found")
		return nil
	}

	fmt.Printf("Found %d probe(s):\n", len(candidates))
	for i, cand := range candidates {
		fmt.Printf("  [%d] %s\n", i, cand.Label())
	}
	return nil
}
