// Package dpid decodes the 32-bit identification registers of ARM debug
// ports and validates them against the signatures a recognized debug port
// must carry. Decoding is pure; nothing here touches a transport.
package dpid

// DPID is a decoded debug-port identification register.
//
// Bit layout: revision [31:28], part number [27:12], designer [11:1],
// reserved legacy bit [0]. The protocol selector nibble [11:8] overlaps the
// designer field and distinguishes JTAG-DP from SW-DP designs.
type DPID struct {
	Raw        uint32
	Revision   uint8  // [31:28]
	PartNumber uint16 // [27:12]
	Designer   uint16 // [11:1] JEP106
	Selector   uint8  // [11:8]
	Reserved   bool   // bit 0, must read as 1
}

// TargetID is a decoded target identification register. The bit positions
// match DPID but the fields carry different meanings (designer identifies
// the chip vendor rather than the debug-port designer, part number the chip
// rather than the DP design), so callers must track which register kind they
// decoded.
type TargetID struct {
	Raw        uint32
	Revision   uint8  // [31:28]
	PartNumber uint16 // [27:12]
	Designer   uint16 // [11:1] JEP106
}

// Designer is a JEP106 designer entry.
type Designer struct {
	Code         uint16
	Name         string
	Abbreviation string
}

// Protocol selector values of the two recognized ARM debug-port kinds.
const (
	SelectorJTAGDP = 0x4
	SelectorSWDP   = 0x2
)

// DesignerARM is ARM's JEP106 code (continuation 4, identity 0x3B).
const DesignerARM = 0x23B
