// Package probe defines the capability contracts that higher protocol layers
// use to drive a hardware debug probe without knowing transport details.
package probe

import "fmt"

// WireProtocol selects the target-side debug protocol at attach time.
type WireProtocol uint8

const (
	ProtocolSWD WireProtocol = iota
	ProtocolJTAG
)

func (p WireProtocol) String() string {
	switch p {
	case ProtocolSWD:
		return "SWD"
	case ProtocolJTAG:
		return "JTAG"
	}
	return fmt.Sprintf("WireProtocol(%d)", uint8(p))
}

// DebugPort is the port value addressing the debug port itself rather than
// one of the access ports (0..255).
const DebugPort uint16 = 0xFFFF

// DAPAccess reads and writes 32-bit DAP registers identified by a
// (port, address) pair. Both operations are atomic from the caller's
// perspective; a failed call has no side effects on caller state.
type DAPAccess interface {
	ReadRegister(port uint16, addr uint32) (uint32, error)
	WriteRegister(port uint16, addr uint32, value uint32) error
}

// Version is a probe firmware version as reported by the device.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("V%dJ%d", v.Major, v.Minor)
}

// DebugProbe composes session lifecycle, firmware version query, protocol
// attach/detach, target reset and DAP register access into one probe-facing
// surface.
//
// Valid call sequences follow the state machine
// Closed -> Open -> Attached -> Open -> Closed. Open is only valid from
// Closed, Attach only from Open, Detach only from Attached. TargetReset is
// protocol-agnostic and valid in Open or Attached. Register access requires
// Attached. Close is valid from Open or Attached and detaches implicitly.
// Calls from any other state fail with an invalid-state error.
type DebugProbe interface {
	DAPAccess

	Open() error
	Close() error
	GetVersion() (Version, error)
	Attach(protocol WireProtocol) error
	Detach() error
	TargetReset() error
}
