package dpid

import "fmt"

// Decode splits a raw ID register value into its fields.
func Decode(raw uint32) DPID {
	return DPID{
		Raw:        raw,
		Revision:   uint8(raw >> 28 & 0xF),
		PartNumber: uint16(raw >> 12 & 0xFFFF),
		Designer:   uint16(raw >> 1 & 0x7FF),
		Selector:   uint8(raw >> 8 & 0xF),
		Reserved:   raw&0x1 == 0x1,
	}
}

// DecodeTargetID splits a raw target identification register. Same bit
// positions as Decode, different field semantics.
func DecodeTargetID(raw uint32) TargetID {
	return TargetID{
		Raw:        raw,
		Revision:   uint8(raw >> 28 & 0xF),
		PartNumber: uint16(raw >> 12 & 0xFFFF),
		Designer:   uint16(raw >> 1 & 0x7FF),
	}
}

// Compose builds a raw ID register value from fields. Mostly useful for
// tests and simulators.
func Compose(revision uint8, part uint16, designer uint16, reserved bool) uint32 {
	raw := uint32(revision&0xF)<<28 | uint32(part)<<12 | uint32(designer&0x7FF)<<1
	if reserved {
		raw |= 1
	}
	return raw
}

// Kind names the debug-port kind selected by the protocol selector nibble.
func (id DPID) Kind() string {
	switch id.Selector {
	case SelectorJTAGDP:
		return "JTAG-DP"
	case SelectorSWDP:
		return "SW-DP"
	}
	return fmt.Sprintf("unknown (0x%X)", id.Selector)
}

func (id DPID) String() string {
	d, _ := LookupDesigner(id.Designer)
	return fmt.Sprintf("0x%08X (%s, designer %s, part 0x%04X, rev %d)",
		id.Raw, id.Kind(), d.Abbreviation, id.PartNumber, id.Revision)
}

func (t TargetID) String() string {
	d, _ := LookupDesigner(t.Designer)
	return fmt.Sprintf("0x%08X (vendor %s, part 0x%04X, rev %d)",
		t.Raw, d.Abbreviation, t.PartNumber, t.Revision)
}

// ValidationError reports why an ID register does not look like a recognized
// ARM debug port. It is a descriptive, non-fatal result, distinct from any
// transport failure.
type ValidationError struct {
	ID     DPID
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dpid: 0x%08X is not a recognized debug port: %s", e.ID.Raw, e.Reason)
}

// knownParts are the debug-port part numbers ARM has shipped for the two
// recognized DP kinds.
var knownParts = map[uint16]bool{
	0xBA00: true, // JTAG-DP
	0xBA01: true, // SW-DP
	0xBA02: true, // SWJ-DP, JTAG side
}

// Validate checks the three signatures a recognized ARM debug port must
// carry: the reserved bit reads as 1, the protocol selector is one of the
// two known kinds, and the designer/part combination is a known one.
func Validate(id DPID) error {
	if !id.Reserved {
		return &ValidationError{ID: id, Reason: "reserved bit reads as 0"}
	}
	if id.Selector != SelectorJTAGDP && id.Selector != SelectorSWDP {
		return &ValidationError{ID: id, Reason: fmt.Sprintf("protocol selector 0x%X unknown", id.Selector)}
	}
	if id.Designer != DesignerARM || !knownParts[id.PartNumber] {
		return &ValidationError{ID: id, Reason: fmt.Sprintf(
			"designer 0x%03X part 0x%04X does not match a known debug port design",
			id.Designer, id.PartNumber)}
	}
	return nil
}
