package cmd

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/spf13/cobra"
)

var (
	resetIndex  int
	resetAssert bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the target attached to a probe",
	Long: `Drive the target's NRST line through the selected probe. Without
--assert the line is pulsed; with --assert=true it is held low and with
--assert=false it is released.

Examples:
  stprobe reset --index 0
  stprobe reset --index 0 --assert=true
  stprobe reset --index 0 --assert=false`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().IntVarP(&resetIndex, "index", "i", 0, "probe index from 'stprobe list'")
	resetCmd.Flags().BoolVar(&resetAssert, "assert", false, "hold (true) or release (false) the reset line")
}

func runReset(cmd *cobra.Command, args []string) error {
	usb := gousb.NewContext()
	defer usb.Close()

	st, cand, err := openByIndex(usb, resetIndex)
	if err != nil {
		return err
	}
	defer st.Close()

	if cmd.Flags().Changed("assert") {
		if err := st.AssertReset(resetAssert); err != nil {
			return fmt.Errorf("failed to drive reset on %s: %w", cand.Label(), err)
		}
		if resetAssert {
			fmt.Println("Reset asserted")
		} else {
			fmt.Println("Reset released")
		}
		return nil
	}

	if err := st.TargetReset(); err != nil {
		return fmt.Errorf("failed to reset target on %s: %w", cand.Label(), err)
	}
	fmt.Println("Target reset")
	return nil
}
