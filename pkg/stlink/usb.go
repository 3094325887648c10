package stlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
)

const (
	// CmdFrameLen is the fixed length of every outbound command frame.
	// Shorter commands are zero-padded; longer ones are a caller error.
	CmdFrameLen = 16

	// DefaultTimeout is a reasonable per-transfer timeout for probe commands.
	DefaultTimeout = 1 * time.Second

	drainReadSize = 1000
	drainTimeout  = 10 * time.Millisecond
	drainMaxReads = 8
)

// bulkOut and bulkIn are the slices of the gousb endpoint surface the
// transport needs. Tests substitute in-memory fakes.
type bulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

type bulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// USBInterface is an opened, interface-claimed transport session bound to one
// probe variant. It is either fully open (interface claimed, all three
// endpoints confirmed) or closed; there is no partially-open state.
//
// The command/response channel has no multiplexing, so a session must be
// driven by one logical owner at a time. Concurrent calls from multiple
// goroutines are not synchronized here.
type USBInterface struct {
	info    ProbeInfo
	bus     int
	address int

	usbctx *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface

	cmdOut  bulkOut
	respIn  bulkIn
	traceIn bulkIn

	opened bool
}

// NewUSBInterface prepares a transport session for a discovered candidate.
// No USB traffic happens until Open.
func NewUSBInterface(usbctx *gousb.Context, cand Candidate) *USBInterface {
	return &USBInterface{
		info:    cand.Info,
		bus:     cand.Bus,
		address: cand.Address,
		usbctx:  usbctx,
	}
}

// Info returns the catalog metadata this session is bound to.
func (u *USBInterface) Info() ProbeInfo {
	return u.info
}

// Open opens the device, claims interface 0, verifies that the three
// endpoint addresses the catalog promised are actually present, and drains
// stale response bytes left over from a previous session. On any failure
// nothing stays claimed.
func (u *USBInterface) Open() error {
	if u.opened {
		return fmt.Errorf("stlink: session already open: %w", probe.ErrInvalidState)
	}

	devs, err := u.usbctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == u.bus && desc.Address == u.address &&
			uint16(desc.Vendor) == VendorST && uint16(desc.Product) == u.info.ProductID
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return fmt.Errorf("stlink: opening device: %w", err)
	}
	if len(devs) == 0 {
		return fmt.Errorf("stlink: device at bus %d addr %d gone: %w",
			u.bus, u.address, probe.ErrDeviceNotFound)
	}
	u.dev = devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	// Not fatal on all platforms, continue anyway.
	_ = u.dev.SetAutoDetach(true)

	if err := u.claim(); err != nil {
		u.release()
		return err
	}
	u.opened = true

	// Discard stale bytes a previous session may have left queued. Running
	// out of data is the expected outcome here.
	if err := u.drainRx(); err != nil {
		u.opened = false
		u.release()
		return fmt.Errorf("stlink: draining stale responses: %w", err)
	}

	log.WithFields(log.Fields{
		"variant": u.info.Name,
		"bus":     u.bus,
		"addr":    u.address,
	}).Debug("stlink session open")

	return nil
}

// claim claims interface 0 and resolves the three catalog endpoints against
// the active setting's descriptors.
func (u *USBInterface) claim() error {
	cfg, err := u.dev.Config(1)
	if err != nil {
		return fmt.Errorf("stlink: reading configuration: %w", err)
	}
	u.cfg = cfg

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("stlink: claiming interface 0: %w", err)
	}
	u.intf = intf

	eps, err := resolveEndpoints(intf.Setting, u.info)
	if err != nil {
		return err
	}

	epOut, err := intf.OutEndpoint(eps.cmdOut.Number)
	if err != nil {
		return fmt.Errorf("stlink: opening command-out endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(eps.respIn.Number)
	if err != nil {
		return fmt.Errorf("stlink: opening response-in endpoint: %w", err)
	}
	epTrace, err := intf.InEndpoint(eps.traceIn.Number)
	if err != nil {
		return fmt.Errorf("stlink: opening trace-in endpoint: %w", err)
	}

	u.cmdOut = epOut
	u.respIn = epIn
	u.traceIn = epTrace
	return nil
}

// endpointSet is the three resolved endpoint descriptors of one variant.
type endpointSet struct {
	cmdOut  gousb.EndpointDesc
	respIn  gousb.EndpointDesc
	traceIn gousb.EndpointDesc
}

// resolveEndpoints locates the three endpoint addresses a catalog entry
// promises within an interface setting's descriptors. A probe that is
// physically present but does not expose the advertised shape must not come
// up, so a missing endpoint is reported as device-not-found.
func resolveEndpoints(setting gousb.InterfaceSetting, info ProbeInfo) (endpointSet, error) {
	var eps endpointSet
	var ok bool
	if eps.cmdOut, ok = findEndpoint(setting, info.EPCmdOut); !ok {
		return eps, missingEndpoint(info, "command-out", info.EPCmdOut)
	}
	if eps.respIn, ok = findEndpoint(setting, info.EPRespIn); !ok {
		return eps, missingEndpoint(info, "response-in", info.EPRespIn)
	}
	if eps.traceIn, ok = findEndpoint(setting, info.EPTraceIn); !ok {
		return eps, missingEndpoint(info, "trace-in", info.EPTraceIn)
	}
	return eps, nil
}

func findEndpoint(setting gousb.InterfaceSetting, addr uint8) (gousb.EndpointDesc, bool) {
	for _, ep := range setting.Endpoints {
		if uint8(ep.Address) == addr {
			return ep, true
		}
	}
	return gousb.EndpointDesc{}, false
}

func missingEndpoint(info ProbeInfo, role string, addr uint8) error {
	return fmt.Errorf("stlink: %s variant lacks %s endpoint 0x%02X: %w",
		info.Name, role, addr, probe.ErrDeviceNotFound)
}

// release drops whatever part of the handle chain is held. Safe to call with
// a partially built chain.
func (u *USBInterface) release() {
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.cfg != nil {
		u.cfg.Close()
		u.cfg = nil
	}
	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}
	u.cmdOut = nil
	u.respIn = nil
	u.traceIn = nil
}

// Close releases the claimed interface and invalidates the session. Closing
// a session that is not open is a programming error, not a no-op.
func (u *USBInterface) Close() error {
	if !u.opened {
		return fmt.Errorf("stlink: close on unopened session: %w", probe.ErrInvalidState)
	}
	u.opened = false
	u.release()
	log.WithField("variant", u.info.Name).Debug("stlink session closed")
	return nil
}

// Write performs the three-phase framed protocol: a mandatory 16-byte
// command frame, an optional data-out phase for writeData, and an optional
// data-in phase filling readData completely. Every phase must transfer its
// exact expected length; a short transfer desynchronizes the stream and is
// surfaced immediately.
//
// Responses are fixed-length: the data-in phase expects exactly len(readData)
// bytes and treats a shorter reply as an I/O error.
func (u *USBInterface) Write(cmd, writeData, readData []byte, timeout time.Duration) error {
	if !u.opened {
		return fmt.Errorf("stlink: write on closed session: %w", probe.ErrInvalidState)
	}
	if len(cmd) > CmdFrameLen {
		return fmt.Errorf("stlink: command length %d exceeds %d-byte frame", len(cmd), CmdFrameLen)
	}

	frame := make([]byte, CmdFrameLen)
	copy(frame, cmd)

	n, err := u.writeBulk(u.cmdOut, frame, timeout)
	if err != nil {
		return fmt.Errorf("stlink: command phase: %w", err)
	}
	if n != CmdFrameLen {
		return fmt.Errorf("stlink: command phase wrote %d of %d bytes: %w",
			n, CmdFrameLen, probe.ErrShortTransfer)
	}

	if len(writeData) > 0 {
		n, err := u.writeBulk(u.cmdOut, writeData, timeout)
		if err != nil {
			return fmt.Errorf("stlink: data-out phase: %w", err)
		}
		if n != len(writeData) {
			return fmt.Errorf("stlink: data-out phase wrote %d of %d bytes: %w",
				n, len(writeData), probe.ErrShortTransfer)
		}
	}

	if len(readData) > 0 {
		n, err := u.readBulk(u.respIn, readData, timeout)
		if err != nil {
			return fmt.Errorf("stlink: data-in phase: %w", err)
		}
		if n != len(readData) {
			return fmt.Errorf("stlink: data-in phase read %d of %d bytes: %w",
				n, len(readData), probe.ErrShortTransfer)
		}
	}

	return nil
}

// Read performs a standalone bulk read from the response-in endpoint,
// returning the bytes actually received. Drain logic relies on the
// distinguished timeout error to detect "no more data".
func (u *USBInterface) Read(size int, timeout time.Duration) ([]byte, error) {
	if !u.opened {
		return nil, fmt.Errorf("stlink: read on closed session: %w", probe.ErrInvalidState)
	}
	buf := make([]byte, size)
	n, err := u.readBulk(u.respIn, buf, timeout)
	if err != nil {
		return nil, fmt.Errorf("stlink: bulk read: %w", err)
	}
	return buf[:n], nil
}

// ReadTrace reads asynchronous SWO/trace bytes from the trace-in endpoint.
// The trace channel is independent of the command/response channel.
func (u *USBInterface) ReadTrace(size int, timeout time.Duration) ([]byte, error) {
	if !u.opened {
		return nil, fmt.Errorf("stlink: trace read on closed session: %w", probe.ErrInvalidState)
	}
	buf := make([]byte, size)
	n, err := u.readBulk(u.traceIn, buf, timeout)
	if err != nil {
		return nil, fmt.Errorf("stlink: trace read: %w", err)
	}
	return buf[:n], nil
}

// drainRx reads from the response endpoint until a timeout signals the pipe
// is empty. Any error other than the expected timeout is propagated.
func (u *USBInterface) drainRx() error {
	for i := 0; i < drainMaxReads; i++ {
		_, err := u.Read(drainReadSize, drainTimeout)
		if err != nil {
			if probe.IsTimeout(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (u *USBInterface) writeBulk(ep bulkOut, buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.WriteContext(ctx, buf)
	return n, classifyTransferErr(err)
}

func (u *USBInterface) readBulk(ep bulkIn, buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.ReadContext(ctx, buf)
	return n, classifyTransferErr(err)
}

// classifyTransferErr folds the several ways gousb reports an expired
// transfer into the single distinguished timeout kind.
func classifyTransferErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.ErrorTimeout) {
		return fmt.Errorf("%w: %w", probe.ErrTimeout, err)
	}
	return err
}
