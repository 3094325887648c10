package probe

import "fmt"

// RegisterHook lets a simulator supply deterministic register contents.
type RegisterHook func(port uint16, addr uint32) (uint32, error)

// RegisterOp captures the last register access for inspection within tests.
type RegisterOp struct {
	Write bool
	Port  uint16
	Addr  uint32
	Value uint32
}

// SimProbe is an in-memory DebugProbe useful for unit tests and for running
// the front end without hardware. It enforces the same state machine as a
// real probe, records the last register access, and can provide deterministic
// reads via OnRead.
type SimProbe struct {
	VersionData Version

	OnRead RegisterHook

	attached bool
	opened   bool
	protocol WireProtocol
	lastOp   RegisterOp
	resets   int
	regs     map[uint64]uint32
}

// NewSimProbe constructs a simulator reporting the provided firmware version.
func NewSimProbe(version Version) *SimProbe {
	return &SimProbe{VersionData: version, regs: make(map[uint64]uint32)}
}

// LastOp returns the most recent register access.
func (s *SimProbe) LastOp() RegisterOp {
	return s.lastOp
}

// ResetCount reports how many target resets have been requested.
func (s *SimProbe) ResetCount() int {
	return s.resets
}

// Protocol returns the wire protocol selected by the last Attach.
func (s *SimProbe) Protocol() WireProtocol {
	return s.protocol
}

func (s *SimProbe) Open() error {
	if s.opened {
		return fmt.Errorf("%w: already open", ErrInvalidState)
	}
	s.opened = true
	return nil
}

func (s *SimProbe) Close() error {
	if !s.opened {
		return fmt.Errorf("%w: not open", ErrInvalidState)
	}
	s.opened = false
	s.attached = false
	return nil
}

func (s *SimProbe) GetVersion() (Version, error) {
	if !s.opened {
		return Version{}, fmt.Errorf("%w: not open", ErrInvalidState)
	}
	return s.VersionData, nil
}

func (s *SimProbe) Attach(protocol WireProtocol) error {
	if !s.opened || s.attached {
		return fmt.Errorf("%w: attach requires an open, detached probe", ErrInvalidState)
	}
	s.attached = true
	s.protocol = protocol
	return nil
}

func (s *SimProbe) Detach() error {
	if !s.attached {
		return fmt.Errorf("%w: not attached", ErrInvalidState)
	}
	s.attached = false
	return nil
}

func (s *SimProbe) TargetReset() error {
	if !s.opened {
		return fmt.Errorf("%w: not open", ErrInvalidState)
	}
	s.resets++
	return nil
}

func (s *SimProbe) ReadRegister(port uint16, addr uint32) (uint32, error) {
	if !s.attached {
		return 0, fmt.Errorf("%w: register access requires attach", ErrInvalidState)
	}
	s.lastOp = RegisterOp{Port: port, Addr: addr}
	if s.OnRead != nil {
		return s.OnRead(port, addr)
	}
	return s.regs[regKey(port, addr)], nil
}

func (s *SimProbe) WriteRegister(port uint16, addr uint32, value uint32) error {
	if !s.attached {
		return fmt.Errorf("%w: register access requires attach", ErrInvalidState)
	}
	s.lastOp = RegisterOp{Write: true, Port: port, Addr: addr, Value: value}
	s.regs[regKey(port, addr)] = value
	return nil
}

func regKey(port uint16, addr uint32) uint64 {
	return uint64(port)<<32 | uint64(addr)
}
