package stlink

// ST-Link firmware command bytes. The first byte of a command frame selects
// the command class, the following bytes are class-specific.
const (
	cmdGetVersion       = 0xF1
	cmdDebug            = 0xF2
	cmdDfu              = 0xF3
	cmdGetCurrentMode   = 0xF5
	cmdGetTargetVoltage = 0xF7

	dfuExit = 0x07

	debugExit             = 0x21
	debugApiV2Enter       = 0x30
	debugApiV2DriveNrst   = 0x3C
	debugApiV2SwdSetFreq  = 0x43
	debugApiV2ReadDapReg  = 0x45
	debugApiV2WriteDapReg = 0x46

	debugEnterSwdNoReset  = 0xA3
	debugEnterJtagNoReset = 0xA4
)

// Drive values for the NRST line.
const (
	nrstLow   = 0x00
	nrstHigh  = 0x01
	nrstPulse = 0x02
)

// Device modes reported by cmdGetCurrentMode.
const (
	modeDfu   = 0x00
	modeMass  = 0x01
	modeDebug = 0x02
	modeSwim  = 0x03
)

// Status codes in the first response byte of debug commands.
const (
	statusDebugOK       = 0x80
	statusDebugFault    = 0x81
	statusSwdDpWait     = 0x14
	statusSwdDpFault    = 0x15
	statusSwdDpError    = 0x16
	statusSwdApWait     = 0x10
	statusSwdApFault    = 0x11
	statusSwdApError    = 0x12
	statusBadApAccess   = 0x1D
	statusJtagWriteErr  = 0x0C
	statusJtagGetIdFail = 0x09
)

// Firmware capability flag indices, derived from the JTAG firmware revision
// reported by the version query.
const (
	flagHasTrace = iota
	flagHasTargetVolt
	flagHasGetLastRwStatus2
	flagHasSwdSetFreq
	flagHasJtagSetFreq
	flagHasDapReg
	flagCount
)
