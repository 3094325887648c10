package cmd

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dpid"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/stlink"
)

var (
	infoIndex int
	infoJTAG  bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show probe firmware and target identification",
	Long: `Open the selected probe, query its firmware version and target
voltage, then attach and read the debug-port identification register.
The register is decoded and validated against known ARM debug-port
signatures.

Examples:
  stprobe info --index 0
  stprobe info --index 0 --jtag     # attach over JTAG instead of SWD`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().IntVarP(&infoIndex, "index", "i", 0, "probe index from 'stprobe list'")
	infoCmd.Flags().BoolVar(&infoJTAG, "jtag", false, "attach over JTAG instead of SWD")
}

// dpIDRAddr is the debug-port identification register address.
const dpIDRAddr = 0x0

func runInfo(cmd *cobra.Command, args []string) error {
	usb := gousb.NewContext()
	defer usb.Close()

	st, cand, err := openByIndex(usb, infoIndex)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.GetVersion()
	if err != nil {
		return fmt.Errorf("failed to read firmware version: %w", err)
	}

	fmt.Printf("Probe:    %s\n", cand.Label())
	fmt.Printf("Firmware: %s\n", version)

	if volts, err := st.TargetVoltage(); err == nil {
		fmt.Printf("Target:   %.2f V\n", volts)
	}

	protocol := probe.ProtocolSWD
	if infoJTAG {
		protocol = probe.ProtocolJTAG
	}
	if err := st.Attach(protocol); err != nil {
		return fmt.Errorf("failed to attach over %v: %w", protocol, err)
	}
	defer st.Detach()

	raw, err := st.ReadRegister(probe.DebugPort, dpIDRAddr)
	if err != nil {
		return fmt.Errorf("failed to read debug port ID register: %w", err)
	}

	id := dpid.Decode(raw)
	fmt.Printf("DP ID:    %s\n", id)
	if err := dpid.Validate(id); err != nil {
		fmt.Printf("Warning:  %v\n", err)
	}
	return nil
}

// openByIndex resolves a list index to an opened probe.
func openByIndex(usb *gousb.Context, index int) (*stlink.STLink, stlink.Candidate, error) {
	candidates, err := stlink.Enumerate(usb, stlink.DefaultCatalog())
	if err != nil {
		return nil, stlink.Candidate{}, fmt.Errorf("enumeration failed: %w", err)
	}
	if index < 0 || index >= len(candidates) {
		return nil, stlink.Candidate{}, fmt.Errorf(
			"probe index %d out of range, %d probe(s) found: %w",
			index, len(candidates), probe.ErrDeviceNotFound)
	}

	cand := candidates[index]
	st := stlink.NewSTLink(stlink.NewUSBInterface(usb, cand))
	if err := st.Open(); err != nil {
		return nil, cand, fmt.Errorf("failed to open %s: %w", cand.Label(), err)
	}
	return st, cand, nil
}
