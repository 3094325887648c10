package stlink

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
)

// Transport is the session surface the driver issues framed commands
// through. USBInterface is the hardware implementation; tests substitute a
// scripted one.
type Transport interface {
	Open() error
	Close() error
	Write(cmd, writeData, readData []byte, timeout time.Duration) error
	Read(size int, timeout time.Duration) ([]byte, error)
	ReadTrace(size int, timeout time.Duration) ([]byte, error)
}

type sessionState uint8

const (
	stateClosed sessionState = iota
	stateOpen
	stateAttached
)

func (s sessionState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateAttached:
		return "attached"
	}
	return fmt.Sprintf("sessionState(%d)", uint8(s))
}

// STLink implements probe.DebugProbe for ST-Link V2/V2-1/V3 firmware over a
// framed transport session. One STLink owns its transport exclusively; its
// methods serialize through an internal mutex so a single logical owner may
// call from multiple goroutines, but the underlying channel still carries one
// command at a time.
type STLink struct {
	mu        sync.Mutex
	transport Transport
	state     sessionState
	protocol  probe.WireProtocol
	timeout   time.Duration

	version probe.Version
	swim    uint8
	flags   bitmap.Bitmap
}

// NewSTLink wraps a transport session in the firmware protocol driver.
func NewSTLink(t Transport) *STLink {
	return &STLink{
		transport: t,
		timeout:   DefaultTimeout,
		flags:     bitmap.New(flagCount),
	}
}

// SetTimeout changes the per-command transfer timeout.
func (s *STLink) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *STLink) invalid(op string) error {
	return fmt.Errorf("stlink: %s in state %s: %w", op, s.state, probe.ErrInvalidState)
}

// Open brings up the transport session, reads the firmware version and, if
// the probe is parked in DFU mode, kicks it back into its normal mode.
func (s *STLink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateClosed {
		return s.invalid("open")
	}
	if err := s.transport.Open(); err != nil {
		return err
	}

	if err := s.readVersion(); err != nil {
		s.transport.Close()
		return err
	}
	if err := s.leaveDfuIfNeeded(); err != nil {
		s.transport.Close()
		return err
	}

	s.state = stateOpen
	log.WithFields(log.Fields{
		"version": s.version,
		"swim":    s.swim,
	}).Debug("stlink probe open")
	return nil
}

// Close tears the session down from Open or Attached, detaching first when
// necessary.
func (s *STLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return s.invalid("close")
	}
	if s.state == stateAttached {
		// Best effort, the interface release below invalidates the mode
		// anyway.
		if err := s.exitDebugMode(); err != nil {
			log.WithError(err).Warn("stlink: leaving debug mode on close")
		}
	}
	s.state = stateClosed
	return s.transport.Close()
}

// GetVersion returns the firmware version read during Open. Major is the
// hardware generation (2 or 3), Minor the JTAG/SWD firmware revision.
func (s *STLink) GetVersion() (probe.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return probe.Version{}, s.invalid("get version")
	}
	return s.version, nil
}

// HasCapability reports a firmware capability derived from the version query.
func (s *STLink) HasCapability(flag int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flag < flagCount && s.flags.Get(flag)
}

// Attach enters debug mode with the selected wire protocol.
func (s *STLink) Attach(protocol probe.WireProtocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return s.invalid("attach")
	}

	var entry byte
	switch protocol {
	case probe.ProtocolSWD:
		entry = debugEnterSwdNoReset
	case probe.ProtocolJTAG:
		entry = debugEnterJtagNoReset
	default:
		return fmt.Errorf("stlink: unsupported wire protocol %v", protocol)
	}

	status := make([]byte, 2)
	err := s.transport.Write([]byte{cmdDebug, debugApiV2Enter, entry}, nil, status, s.timeout)
	if err != nil {
		return err
	}
	if err := checkStatus(status[0]); err != nil {
		return fmt.Errorf("stlink: entering %v mode: %w", protocol, err)
	}

	s.state = stateAttached
	s.protocol = protocol
	log.WithField("protocol", protocol.String()).Debug("stlink attached")
	return nil
}

// Detach leaves debug mode and returns to the plain open state.
func (s *STLink) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAttached {
		return s.invalid("detach")
	}
	if err := s.exitDebugMode(); err != nil {
		return err
	}
	s.state = stateOpen
	return nil
}

// TargetReset pulses the NRST line. Reset is protocol-agnostic and valid
// whether or not a protocol is attached.
func (s *STLink) TargetReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return s.invalid("target reset")
	}
	return s.driveNrst(nrstPulse)
}

// AssertReset drives NRST low (assert=true) or releases it (assert=false).
func (s *STLink) AssertReset(assert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return s.invalid("assert reset")
	}
	if assert {
		return s.driveNrst(nrstLow)
	}
	return s.driveNrst(nrstHigh)
}

// ReadRegister reads one 32-bit DAP register on (port, addr). Port 0xFFFF
// addresses the debug port, 0..255 the access ports.
func (s *STLink) ReadRegister(port uint16, addr uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAttached {
		return 0, s.invalid("read register")
	}
	if addr > 0xFFFF {
		return 0, fmt.Errorf("stlink: register address %#x exceeds the 16-bit wire field", addr)
	}

	cmd := make([]byte, 6)
	cmd[0] = cmdDebug
	cmd[1] = debugApiV2ReadDapReg
	binary.LittleEndian.PutUint16(cmd[2:], port)
	binary.LittleEndian.PutUint16(cmd[4:], uint16(addr))

	resp := make([]byte, 8)
	if err := s.transport.Write(cmd, nil, resp, s.timeout); err != nil {
		return 0, err
	}
	if err := checkStatus(resp[0]); err != nil {
		return 0, fmt.Errorf("stlink: reading DAP register %#x on port %#x: %w", addr, port, err)
	}
	return binary.LittleEndian.Uint32(resp[4:]), nil
}

// WriteRegister writes one 32-bit DAP register on (port, addr).
func (s *STLink) WriteRegister(port uint16, addr uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAttached {
		return s.invalid("write register")
	}
	if addr > 0xFFFF {
		return fmt.Errorf("stlink: register address %#x exceeds the 16-bit wire field", addr)
	}

	cmd := make([]byte, 10)
	cmd[0] = cmdDebug
	cmd[1] = debugApiV2WriteDapReg
	binary.LittleEndian.PutUint16(cmd[2:], port)
	binary.LittleEndian.PutUint16(cmd[4:], uint16(addr))
	binary.LittleEndian.PutUint32(cmd[6:], value)

	resp := make([]byte, 2)
	if err := s.transport.Write(cmd, nil, resp, s.timeout); err != nil {
		return err
	}
	if err := checkStatus(resp[0]); err != nil {
		return fmt.Errorf("stlink: writing DAP register %#x on port %#x: %w", addr, port, err)
	}
	return nil
}

// TargetVoltage samples the target supply voltage via the probe's ADC. Only
// firmware J13 and later has the ADC query.
func (s *STLink) TargetVoltage() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return 0, s.invalid("target voltage")
	}
	if !s.flags.Get(flagHasTargetVolt) {
		return 0, fmt.Errorf("stlink: firmware %v cannot measure target voltage", s.version)
	}

	resp := make([]byte, 8)
	if err := s.transport.Write([]byte{cmdGetTargetVoltage}, nil, resp, s.timeout); err != nil {
		return 0, err
	}
	adcRef := binary.LittleEndian.Uint32(resp[0:])
	adcTgt := binary.LittleEndian.Uint32(resp[4:])
	if adcRef == 0 {
		return 0, fmt.Errorf("stlink: voltage reference reads zero")
	}
	return 2 * float32(adcTgt) * (1.2 / float32(adcRef)), nil
}

// SetSWDFrequency selects the SWD clock divisor. Only firmware J22 and later
// supports it.
func (s *STLink) SetSWDFrequency(divisor uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return s.invalid("set SWD frequency")
	}
	if !s.flags.Get(flagHasSwdSetFreq) {
		return fmt.Errorf("stlink: firmware %v cannot set SWD frequency", s.version)
	}

	cmd := make([]byte, 4)
	cmd[0] = cmdDebug
	cmd[1] = debugApiV2SwdSetFreq
	binary.LittleEndian.PutUint16(cmd[2:], divisor)

	resp := make([]byte, 2)
	if err := s.transport.Write(cmd, nil, resp, s.timeout); err != nil {
		return err
	}
	return checkStatus(resp[0])
}

// ReadTrace pulls pending SWO bytes from the trace endpoint without touching
// the command/response channel.
func (s *STLink) ReadTrace(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil, s.invalid("trace read")
	}
	if !s.flags.Get(flagHasTrace) {
		return nil, fmt.Errorf("stlink: firmware %v has no trace support", s.version)
	}
	return s.transport.ReadTrace(size, s.timeout)
}

func (s *STLink) readVersion() error {
	resp := make([]byte, 6)
	if err := s.transport.Write([]byte{cmdGetVersion}, nil, resp, s.timeout); err != nil {
		return err
	}

	// Big-endian packed V:4 J:6 S:6.
	raw := binary.BigEndian.Uint16(resp)
	hw := uint8(raw >> 12 & 0x0F)
	jtag := uint8(raw >> 6 & 0x3F)
	swim := uint8(raw & 0x3F)

	s.version = probe.Version{Major: hw, Minor: jtag}
	s.swim = swim
	s.applyCapabilities(hw, jtag)
	return nil
}

// applyCapabilities records which optional firmware APIs this revision has.
func (s *STLink) applyCapabilities(hw, jtag uint8) {
	if hw >= 3 {
		for f := 0; f < flagCount; f++ {
			s.flags.Set(f, true)
		}
		return
	}
	s.flags.Set(flagHasTrace, jtag >= 13)
	s.flags.Set(flagHasTargetVolt, jtag >= 13)
	s.flags.Set(flagHasGetLastRwStatus2, jtag >= 15)
	s.flags.Set(flagHasSwdSetFreq, jtag >= 22)
	s.flags.Set(flagHasJtagSetFreq, jtag >= 24)
	s.flags.Set(flagHasDapReg, jtag >= 24)
}

func (s *STLink) leaveDfuIfNeeded() error {
	mode := make([]byte, 2)
	if err := s.transport.Write([]byte{cmdGetCurrentMode}, nil, mode, s.timeout); err != nil {
		return err
	}
	if mode[0] != modeDfu {
		return nil
	}
	log.Debug("stlink parked in DFU mode, leaving")
	return s.transport.Write([]byte{cmdDfu, dfuExit}, nil, nil, s.timeout)
}

func (s *STLink) exitDebugMode() error {
	return s.transport.Write([]byte{cmdDebug, debugExit}, nil, nil, s.timeout)
}

func (s *STLink) driveNrst(drive byte) error {
	resp := make([]byte, 2)
	err := s.transport.Write([]byte{cmdDebug, debugApiV2DriveNrst, drive}, nil, resp, s.timeout)
	if err != nil {
		return err
	}
	if err := checkStatus(resp[0]); err != nil {
		return fmt.Errorf("stlink: driving NRST: %w", err)
	}
	return nil
}

// checkStatus maps the first byte of a debug command response to an error.
func checkStatus(status byte) error {
	switch status {
	case statusDebugOK:
		return nil
	case statusDebugFault:
		return fmt.Errorf("stlink: firmware reports fault")
	case statusSwdDpWait, statusSwdApWait:
		return fmt.Errorf("stlink: target not ready (WAIT response)")
	case statusSwdDpFault, statusSwdApFault:
		return fmt.Errorf("stlink: sticky fault on debug port")
	case statusSwdDpError, statusSwdApError:
		return fmt.Errorf("stlink: SWD protocol error")
	case statusBadApAccess:
		return fmt.Errorf("stlink: bad access port")
	default:
		return fmt.Errorf("stlink: unknown status 0x%02X", status)
	}
}

var _ probe.DebugProbe = (*STLink)(nil)
