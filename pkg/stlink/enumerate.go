package stlink

import (
	"fmt"

	"github.com/google/gousb"
)

// Candidate is a discovered, not yet opened probe: the bus location of a live
// USB device paired with its matched catalog entry. A candidate holds no open
// handle; Open turns it into a transport session.
type Candidate struct {
	Info    ProbeInfo
	Bus     int
	Address int
}

// Label returns a user-friendly description for the candidate.
func (c Candidate) Label() string {
	return fmt.Sprintf("ST-Link %s (%04X:%04X) bus %d addr %d",
		c.Info.Name, VendorST, c.Info.ProductID, c.Bus, c.Address)
}

// Enumerate lists all connected probes matching the catalog, in enumeration
// order. Matching never opens a device; a device whose descriptor cannot be
// read is skipped rather than failing the whole enumeration. The returned
// bus/address locations are only stable until devices are re-plugged, so
// callers must not assume index stability across separate calls.
func Enumerate(ctx *gousb.Context, cat *Catalog) ([]Candidate, error) {
	var results []Candidate

	// The filter never returns true, so OpenDevices inspects descriptors
	// without opening anything.
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if info, ok := matchDesc(desc, cat); ok {
			results = append(results, Candidate{
				Info:    info,
				Bus:     desc.Bus,
				Address: desc.Address,
			})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("stlink: enumerating devices: %w", err)
	}

	return results, nil
}

// matchDesc checks one device descriptor against the catalog.
func matchDesc(desc *gousb.DeviceDesc, cat *Catalog) (ProbeInfo, bool) {
	if desc == nil || uint16(desc.Vendor) != VendorST {
		return ProbeInfo{}, false
	}
	return cat.Lookup(uint16(desc.Product))
}
