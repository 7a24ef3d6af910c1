package mpsse

// MPSSE configuration opcodes. See FTDI AN_108 for the full table; only the
// subset this package emits is listed.
const (
	cmdSetBitsLow      byte = 0x80 // state, direction for ADBUS0-7
	cmdGetBitsLow      byte = 0x81
	cmdLoopbackOff     byte = 0x85
	cmdSetTCKDivisor   byte = 0x86 // divisor low, divisor high
	cmdSendImmediate   byte = 0x87 // flush the chip's read FIFO back to host
	cmdDisableClkDiv5  byte = 0x8A // run the shifter off the 60 MHz base clock
	cmdEnable3Phase    byte = 0x8C
	cmdDisable3Phase   byte = 0x8D
	cmdEnableAdaptive  byte = 0x96
	cmdDisableAdaptive byte = 0x97
)

// Flag bits composing the data-shifting opcodes (0x10..0x3F).
const (
	flagWriteNeg byte = 0x01 // change output on falling clock edge
	flagBitMode  byte = 0x02 // length counts bits, not bytes
	flagReadNeg  byte = 0x04 // sample input on falling clock edge
	flagLSBFirst byte = 0x08
	flagDoWrite  byte = 0x10
	flagDoRead   byte = 0x20
)

// The shifter misbehaves if the transfer edge does not match the clock's idle
// level, so the edge flag is always derived from the idle level:
//
//	clock idle low   -> write on falling edge, read on rising edge
//	clock idle high  -> write on rising edge,  read on falling edge
//
// With 3-phase clocking each data phase is stretched so the value is stable
// on both edges, which is what keeps I2C targets happy.
const (
	idleLowWrite  = flagDoWrite | flagWriteNeg // 0x11
	idleLowRead   = flagDoRead                 // 0x20
	idleHighWrite = flagDoWrite                // 0x10
	idleHighRead  = flagDoRead | flagReadNeg   // 0x24
)

// BitMode selects the chip's operating mode, programmed through the raw
// device before any MPSSE command is issued.
type BitMode byte

const (
	BitModeReset BitMode = 0x00
	BitModeMPSSE BitMode = 0x02
)
