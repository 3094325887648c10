// Package stlink drives ST-Link V2/V2-1/V3 USB debug probes. It covers
// device discovery against a catalog of known probe variants, the framed
// bulk command/response transport, and an implementation of the
// probe.DebugProbe contract on top of it.
package stlink

// VendorST is the USB vendor ID shared by all ST-Link probes.
const VendorST = 0x0483

// ProbeInfo is the immutable per-variant metadata: a display name and the
// three bulk endpoint addresses the variant exposes.
type ProbeInfo struct {
	Name      string
	ProductID uint16
	EPCmdOut  uint8 // command/data out
	EPRespIn  uint8 // response in
	EPTraceIn uint8 // SWO/trace in
}

// Catalog maps USB product IDs to probe metadata. It is built once at process
// start and passed by reference into enumeration; it is never mutated after
// construction.
type Catalog struct {
	byProduct map[uint16]ProbeInfo
}

// NewCatalog builds a catalog from the given entries.
func NewCatalog(entries []ProbeInfo) *Catalog {
	m := make(map[uint16]ProbeInfo, len(entries))
	for _, e := range entries {
		m[e.ProductID] = e
	}
	return &Catalog{byProduct: m}
}

// DefaultCatalog returns the catalog of known ST-Link variants and their
// endpoint layouts.
func DefaultCatalog() *Catalog {
	return NewCatalog([]ProbeInfo{
		{Name: "V2", ProductID: 0x3748, EPCmdOut: 0x02, EPRespIn: 0x81, EPTraceIn: 0x83},
		{Name: "V2-1", ProductID: 0x374B, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82},
		{Name: "V2-1", ProductID: 0x374A, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82}, // audio
		{Name: "V2-1", ProductID: 0x3742, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82}, // no MSD
		{Name: "V3", ProductID: 0x374E, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82},
		{Name: "V3", ProductID: 0x374F, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82}, // bridge
		{Name: "V3", ProductID: 0x3753, EPCmdOut: 0x01, EPRespIn: 0x81, EPTraceIn: 0x82}, // 2VCP
	})
}

// Lookup returns the metadata for a product ID, if the catalog knows it.
func (c *Catalog) Lookup(productID uint16) (ProbeInfo, bool) {
	info, ok := c.byProduct[productID]
	return info, ok
}

// Len returns the number of known variants.
func (c *Catalog) Len() int {
	return len(c.byProduct)
}
