package probe

import (
	"errors"
	"fmt"
	"testing"
)

func TestSimProbeLifecycle(t *testing.T) {
	sim := NewSimProbe(Version{Major: 2, Minor: 24})

	if _, err := sim.GetVersion(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("GetVersion before Open must fail, got %v", err)
	}

	if err := sim.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := sim.Open(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double Open must fail, got %v", err)
	}

	v, err := sim.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion returned error: %v", err)
	}
	if v.String() != "V2J24" {
		t.Errorf("version = %s, want V2J24", v)
	}

	if err := sim.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := sim.Close(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double Close must fail, got %v", err)
	}
}

func TestSimProbeAttachStates(t *testing.T) {
	sim := NewSimProbe(Version{})
	if err := sim.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	if _, err := sim.ReadRegister(DebugPort, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("register read before attach must fail, got %v", err)
	}

	if err := sim.Attach(ProtocolSWD); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	if sim.Protocol() != ProtocolSWD {
		t.Errorf("protocol = %v, want SWD", sim.Protocol())
	}
	if err := sim.Attach(ProtocolJTAG); !errors.Is(err, ErrInvalidState) {
		t.Errorf("attach while attached must fail, got %v", err)
	}

	if err := sim.Detach(); err != nil {
		t.Fatalf("Detach returned error: %v", err)
	}
	if err := sim.Detach(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("detach while detached must fail, got %v", err)
	}

	// Close from attached detaches implicitly.
	if err := sim.Attach(ProtocolJTAG); err != nil {
		t.Fatalf("re-attach returned error: %v", err)
	}
	if err := sim.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := sim.ReadRegister(DebugPort, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("register read after close must fail, got %v", err)
	}
}

func TestSimProbeRegisters(t *testing.T) {
	sim := NewSimProbe(Version{})
	sim.Open()
	sim.Attach(ProtocolSWD)

	if err := sim.WriteRegister(0, 0x4, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteRegister returned error: %v", err)
	}
	got, err := sim.ReadRegister(0, 0x4)
	if err != nil {
		t.Fatalf("ReadRegister returned error: %v", err)
	}
	if got != 0xCAFEBABE {
		t.Errorf("value = 0x%08X, want 0xCAFEBABE", got)
	}

	op := sim.LastOp()
	if op.Write || op.Port != 0 || op.Addr != 0x4 {
		t.Errorf("unexpected last op: %+v", op)
	}
}

func TestSimProbeReadHook(t *testing.T) {
	sim := NewSimProbe(Version{})
	sim.Open()
	sim.Attach(ProtocolSWD)

	sim.OnRead = func(port uint16, addr uint32) (uint32, error) {
		if port != DebugPort || addr != 0 {
			t.Fatalf("unexpected hook args: port=%#x addr=%#x", port, addr)
		}
		return 0x3BA02477, nil
	}

	got, err := sim.ReadRegister(DebugPort, 0)
	if err != nil {
		t.Fatalf("ReadRegister returned error: %v", err)
	}
	if got != 0x3BA02477 {
		t.Errorf("value = 0x%08X, want 0x3BA02477", got)
	}
}

func TestSimProbeResetCount(t *testing.T) {
	sim := NewSimProbe(Version{})
	if err := sim.TargetReset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reset before open must fail, got %v", err)
	}

	sim.Open()
	sim.TargetReset()
	sim.Attach(ProtocolSWD)
	sim.TargetReset()

	if sim.ResetCount() != 2 {
		t.Errorf("ResetCount = %d, want 2", sim.ResetCount())
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(ErrTimeout) {
		t.Errorf("ErrTimeout must classify as timeout")
	}
	if !IsTimeout(fmt.Errorf("bulk read: %w", ErrTimeout)) {
		t.Errorf("wrapped ErrTimeout must classify as timeout")
	}
	if IsTimeout(ErrShortTransfer) {
		t.Errorf("short transfer is not a timeout")
	}
}
