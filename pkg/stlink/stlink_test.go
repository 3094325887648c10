package stlink

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
)

// mockTransport scripts framed replies and records every command issued.
type mockTransport struct {
	opened  bool
	closed  int
	cmds    [][]byte
	replies [][]byte
	errs    []error
	call    int
}

func (m *mockTransport) Open() error {
	m.opened = true
	return nil
}

func (m *mockTransport) Close() error {
	m.opened = false
	m.closed++
	return nil
}

func (m *mockTransport) Write(cmd, writeData, readData []byte, _ time.Duration) error {
	m.cmds = append(m.cmds, append([]byte(nil), cmd...))
	i := m.call
	m.call++

	if i < len(m.errs) && m.errs[i] != nil {
		return m.errs[i]
	}
	if i < len(m.replies) {
		copy(readData, m.replies[i])
	}
	return nil
}

func (m *mockTransport) Read(size int, _ time.Duration) ([]byte, error) {
	return nil, probe.ErrTimeout
}

func (m *mockTransport) ReadTrace(size int, _ time.Duration) ([]byte, error) {
	return make([]byte, size), nil
}

// versionReply encodes a GetVersion response for hardware generation hw with
// JTAG firmware revision jtag.
func versionReply(hw, jtag, swim uint8) []byte {
	raw := uint16(hw)<<12 | uint16(jtag)<<6 | uint16(swim)
	return []byte{byte(raw >> 8), byte(raw), 0x83, 0x04, 0x48, 0x37}
}

// newOpenProbe scripts a successful Open (version V2 J24, already in debug
// mode) followed by the given replies.
func newOpenProbe(t *testing.T, replies ...[]byte) (*STLink, *mockTransport) {
	t.Helper()

	m := &mockTransport{
		replies: append([][]byte{
			versionReply(2, 24, 7),
			{modeDebug, 0x00},
		}, replies...),
	}
	st := NewSTLink(m)
	if err := st.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return st, m
}

func TestOpenReadsVersion(t *testing.T) {
	st, m := newOpenProbe(t)

	v, err := st.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion returned error: %v", err)
	}
	if v.Major != 2 || v.Minor != 24 {
		t.Errorf("version = %+v, want V2J24", v)
	}

	if len(m.cmds) != 2 {
		t.Fatalf("Expected version + mode queries, got %d commands", len(m.cmds))
	}
	if m.cmds[0][0] != cmdGetVersion {
		t.Errorf("first command = 0x%02X, want GetVersion", m.cmds[0][0])
	}
	if m.cmds[1][0] != cmdGetCurrentMode {
		t.Errorf("second command = 0x%02X, want GetCurrentMode", m.cmds[1][0])
	}
}

func TestOpenLeavesDfuMode(t *testing.T) {
	m := &mockTransport{
		replies: [][]byte{
			versionReply(2, 24, 7),
			{modeDfu, 0x00},
			nil, // DFU exit has no response
		},
	}
	st := NewSTLink(m)
	if err := st.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	last := m.cmds[len(m.cmds)-1]
	if !bytes.Equal(last, []byte{cmdDfu, dfuExit}) {
		t.Errorf("Expected DFU exit command, got %X", last)
	}
}

func TestCapabilityFlags(t *testing.T) {
	tests := []struct {
		name      string
		hw, jtag  uint8
		dapReg    bool
		swdFreq   bool
		trace     bool
		jtagFreq  bool
	}{
		{"old V2 firmware", 2, 12, false, false, false, false},
		{"V2 J22", 2, 22, false, true, true, false},
		{"V2 J24", 2, 24, true, true, true, true},
		{"V3", 3, 1, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockTransport{replies: [][]byte{
				versionReply(tt.hw, tt.jtag, 0),
				{modeDebug, 0x00},
			}}
			st := NewSTLink(m)
			if err := st.Open(); err != nil {
				t.Fatalf("Open returned error: %v", err)
			}

			if got := st.HasCapability(flagHasDapReg); got != tt.dapReg {
				t.Errorf("dapReg = %v, want %v", got, tt.dapReg)
			}
			if got := st.HasCapability(flagHasSwdSetFreq); got != tt.swdFreq {
				t.Errorf("swdFreq = %v, want %v", got, tt.swdFreq)
			}
			if got := st.HasCapability(flagHasTrace); got != tt.trace {
				t.Errorf("trace = %v, want %v", got, tt.trace)
			}
			if got := st.HasCapability(flagHasJtagSetFreq); got != tt.jtagFreq {
				t.Errorf("jtagFreq = %v, want %v", got, tt.jtagFreq)
			}
		})
	}
}

func TestOpenTwiceFails(t *testing.T) {
	st, _ := newOpenProbe(t)
	if err := st.Open(); !errors.Is(err, probe.ErrInvalidState) {
		t.Fatalf("second Open must fail with invalid state, got %v", err)
	}
}

func TestAttachEncodesProtocol(t *testing.T) {
	tests := []struct {
		protocol probe.WireProtocol
		entry    byte
	}{
		{probe.ProtocolSWD, debugEnterSwdNoReset},
		{probe.ProtocolJTAG, debugEnterJtagNoReset},
	}

	for _, tt := range tests {
		t.Run(tt.protocol.String(), func(t *testing.T) {
			st, m := newOpenProbe(t, []byte{statusDebugOK, 0x00})
			if err := st.Attach(tt.protocol); err != nil {
				t.Fatalf("Attach returned error: %v", err)
			}

			last := m.cmds[len(m.cmds)-1]
			want := []byte{cmdDebug, debugApiV2Enter, tt.entry}
			if !bytes.Equal(last, want) {
				t.Errorf("attach command = %X, want %X", last, want)
			}
		})
	}
}

func TestAttachTwiceFails(t *testing.T) {
	st, _ := newOpenProbe(t, []byte{statusDebugOK, 0x00})
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	if err := st.Attach(probe.ProtocolSWD); !errors.Is(err, probe.ErrInvalidState) {
		t.Fatalf("second Attach must fail with invalid state, got %v", err)
	}
}

func TestAttachFirmwareFault(t *testing.T) {
	st, _ := newOpenProbe(t, []byte{statusDebugFault, 0x00})
	err := st.Attach(probe.ProtocolSWD)
	if err == nil {
		t.Fatalf("expected attach to surface firmware fault")
	}
	// A failed attach leaves the probe detached.
	if err := st.Detach(); !errors.Is(err, probe.ErrInvalidState) {
		t.Errorf("probe must not be attached after failed attach, got %v", err)
	}
}

func TestDetachCycle(t *testing.T) {
	st, m := newOpenProbe(t,
		[]byte{statusDebugOK, 0x00}, // attach
		nil,                         // detach (debug exit, no reply)
		[]byte{statusDebugOK, 0x00}, // attach again
	)

	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	if err := st.Detach(); err != nil {
		t.Fatalf("Detach returned error: %v", err)
	}

	exit := m.cmds[len(m.cmds)-1]
	if !bytes.Equal(exit, []byte{cmdDebug, debugExit}) {
		t.Errorf("detach command = %X, want debug exit", exit)
	}

	// Open again after detach, so attach is valid once more.
	if err := st.Attach(probe.ProtocolJTAG); err != nil {
		t.Errorf("re-attach after detach failed: %v", err)
	}
}

func TestDetachWithoutAttachFails(t *testing.T) {
	st, _ := newOpenProbe(t)
	if err := st.Detach(); !errors.Is(err, probe.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestRegisterAccessRequiresAttach(t *testing.T) {
	st, _ := newOpenProbe(t)

	if _, err := st.ReadRegister(probe.DebugPort, 0); !errors.Is(err, probe.ErrInvalidState) {
		t.Errorf("read before attach must fail, got %v", err)
	}
	if err := st.WriteRegister(probe.DebugPort, 0x8, 0); !errors.Is(err, probe.ErrInvalidState) {
		t.Errorf("write before attach must fail, got %v", err)
	}
}

func TestReadRegister(t *testing.T) {
	st, m := newOpenProbe(t,
		[]byte{statusDebugOK, 0x00},
		[]byte{statusDebugOK, 0x00, 0x00, 0x00, 0x77, 0x24, 0xA0, 0x3B},
	)
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	value, err := st.ReadRegister(probe.DebugPort, 0x0)
	if err != nil {
		t.Fatalf("ReadRegister returned error: %v", err)
	}
	if value != 0x3BA02477 {
		t.Errorf("value = 0x%08X, want 0x3BA02477", value)
	}

	cmd := m.cmds[len(m.cmds)-1]
	want := []byte{cmdDebug, debugApiV2ReadDapReg, 0xFF, 0xFF, 0x00, 0x00}
	if !bytes.Equal(cmd, want) {
		t.Errorf("read command = %X, want %X", cmd, want)
	}
}

func TestWriteRegister(t *testing.T) {
	st, m := newOpenProbe(t,
		[]byte{statusDebugOK, 0x00},
		[]byte{statusDebugOK, 0x00},
	)
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	if err := st.WriteRegister(0x00, 0x4, 0x12345678); err != nil {
		t.Fatalf("WriteRegister returned error: %v", err)
	}

	cmd := m.cmds[len(m.cmds)-1]
	want := []byte{cmdDebug, debugApiV2WriteDapReg,
		0x00, 0x00, // AP 0
		0x04, 0x00, // address
		0x78, 0x56, 0x34, 0x12, // value, little endian
	}
	if !bytes.Equal(cmd, want) {
		t.Errorf("write command = %X, want %X", cmd, want)
	}
}

func TestRegisterAddressBeyondWireField(t *testing.T) {
	st, m := newOpenProbe(t, []byte{statusDebugOK, 0x00})
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	issued := len(m.cmds)

	// The wire format carries a 16-bit address; wider values must be
	// rejected before anything reaches the firmware.
	if _, err := st.ReadRegister(probe.DebugPort, 0x10000); err == nil {
		t.Errorf("expected error reading address beyond 16 bits")
	}
	if err := st.WriteRegister(0x00, 0x10000, 0x1); err == nil {
		t.Errorf("expected error writing address beyond 16 bits")
	}
	if len(m.cmds) != issued {
		t.Errorf("out-of-range address reached the transport, %d new command(s)",
			len(m.cmds)-issued)
	}
}

func TestTargetResetStates(t *testing.T) {
	// Valid from Open.
	st, m := newOpenProbe(t, []byte{statusDebugOK, 0x00})
	if err := st.TargetReset(); err != nil {
		t.Fatalf("TargetReset from open returned error: %v", err)
	}
	cmd := m.cmds[len(m.cmds)-1]
	want := []byte{cmdDebug, debugApiV2DriveNrst, nrstPulse}
	if !bytes.Equal(cmd, want) {
		t.Errorf("reset command = %X, want %X", cmd, want)
	}

	// Valid from Attached, too.
	st, _ = newOpenProbe(t,
		[]byte{statusDebugOK, 0x00},
		[]byte{statusDebugOK, 0x00},
	)
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	if err := st.TargetReset(); err != nil {
		t.Errorf("TargetReset from attached returned error: %v", err)
	}

	// Invalid from Closed.
	st = NewSTLink(&mockTransport{})
	if err := st.TargetReset(); !errors.Is(err, probe.ErrInvalidState) {
		t.Errorf("TargetReset from closed must fail, got %v", err)
	}
}

func TestAssertReset(t *testing.T) {
	st, m := newOpenProbe(t,
		[]byte{statusDebugOK, 0x00},
		[]byte{statusDebugOK, 0x00},
	)

	if err := st.AssertReset(true); err != nil {
		t.Fatalf("AssertReset(true) returned error: %v", err)
	}
	if got := m.cmds[len(m.cmds)-1][2]; got != nrstLow {
		t.Errorf("assert drive = 0x%02X, want low", got)
	}

	if err := st.AssertReset(false); err != nil {
		t.Fatalf("AssertReset(false) returned error: %v", err)
	}
	if got := m.cmds[len(m.cmds)-1][2]; got != nrstHigh {
		t.Errorf("release drive = 0x%02X, want high", got)
	}
}

func TestTargetVoltage(t *testing.T) {
	st, _ := newOpenProbe(t,
		[]byte{0xB0, 0x04, 0x00, 0x00, 0xB0, 0x04, 0x00, 0x00}, // 1200 / 1200
	)

	volts, err := st.TargetVoltage()
	if err != nil {
		t.Fatalf("TargetVoltage returned error: %v", err)
	}
	if volts < 2.39 || volts > 2.41 {
		t.Errorf("voltage = %.3f, want 2.4", volts)
	}
}

func TestSetSWDFrequencyRequiresCapability(t *testing.T) {
	m := &mockTransport{replies: [][]byte{
		versionReply(2, 12, 0), // too old for SWD frequency control
		{modeDebug, 0x00},
	}}
	st := NewSTLink(m)
	if err := st.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	if err := st.SetSWDFrequency(1); err == nil {
		t.Errorf("expected capability error on J12 firmware")
	}
}

func TestVoltageAndTraceRequireCapability(t *testing.T) {
	m := &mockTransport{replies: [][]byte{
		versionReply(2, 12, 0), // pre-J13, no ADC and no trace endpoint use
		{modeDebug, 0x00},
	}}
	st := NewSTLink(m)
	if err := st.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	issued := len(m.cmds)

	if _, err := st.TargetVoltage(); err == nil {
		t.Errorf("expected capability error measuring voltage on J12 firmware")
	}
	if _, err := st.ReadTrace(64); err == nil {
		t.Errorf("expected capability error reading trace on J12 firmware")
	}
	if len(m.cmds) != issued {
		t.Errorf("ungated command reached the transport, %d new command(s)",
			len(m.cmds)-issued)
	}
}

func TestCloseDetachesImplicitly(t *testing.T) {
	st, m := newOpenProbe(t,
		[]byte{statusDebugOK, 0x00}, // attach
		nil,                         // debug exit during close
	)
	if err := st.Attach(probe.ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if m.closed != 1 {
		t.Errorf("transport closed %d times, want 1", m.closed)
	}

	exit := m.cmds[len(m.cmds)-1]
	if !bytes.Equal(exit, []byte{cmdDebug, debugExit}) {
		t.Errorf("Close must leave debug mode first, last command %X", exit)
	}

	if err := st.Close(); !errors.Is(err, probe.ErrInvalidState) {
		t.Errorf("Close on closed probe must fail, got %v", err)
	}
}

func TestGetVersionWhenClosed(t *testing.T) {
	st := NewSTLink(&mockTransport{})
	if _, err := st.GetVersion(); !errors.Is(err, probe.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
