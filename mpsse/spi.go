package mpsse

// SPI line assignment on the low pin byte:
//
//	ADBUS0: SCK
//	ADBUS1: MOSI
//	ADBUS2: MISO
//	ADBUS3: CS (driven, active low)
const (
	spiSCK  byte = 0x01
	spiMOSI byte = 0x02
	spiCS   byte = 0x08
	spiOut  byte = spiSCK | spiMOSI | spiCS
)

// SPIMode selects clock polarity and phase. Only the two modes the
// shifter's edge selection can express are available: mode 0 (clock idle
// low, data launched on the falling edge, sampled on the rising edge) and
// mode 3 (clock idle high, the converse).
type SPIMode int

const (
	SPIMode0 SPIMode = 0
	SPIMode3 SPIMode = 3
)

// SPI implements a half-duplex single-target SPI master on a Device.
type SPI struct {
	dev     *Device
	idle    byte // pin state between transactions
	writeOp byte
	readOp  byte
}

// NewSPI attaches an SPI engine to dev running at sckKHz (0 selects 1000).
// The channel is switched into command mode, synchronized, clocked with
// plain 2-phase timing, and the pins are parked idle with CS deasserted.
//
// Only one engine may be attached to a Device at a time.
func NewSPI(dev *Device, mode SPIMode, sckKHz float64) (*SPI, error) {
	if sckKHz == 0 {
		sckKHz = 1000
	}
	if sckKHz < 0 {
		return nil, ErrInvalidArgument
	}

	s := &SPI{dev: dev}
	switch mode {
	case SPIMode0:
		s.idle = spiCS
		s.writeOp = idleLowWrite
		s.readOp = idleLowRead
	case SPIMode3:
		s.idle = spiCS | spiSCK
		s.writeOp = idleHighWrite
		s.readOp = idleHighRead
	default:
		return nil, ErrInvalidArgument
	}

	if err := dev.raw.SetBitMode(0xFF, BitModeMPSSE); err != nil {
		return nil, &TransportError{Op: "set bitmode", Err: err}
	}
	if err := dev.Sync(); err != nil {
		return nil, err
	}
	if _, err := dev.SetClockFreq(sckKHz, false, false); err != nil {
		return nil, err
	}
	dev.ClearBuffer()
	if err := dev.SetLowPins(s.idle, spiOut); err != nil {
		return nil, err
	}
	return s, nil
}

// Close leaves command mode. The Device stays open.
func (s *SPI) Close() error {
	if err := s.dev.raw.SetBitMode(0xFF, BitModeReset); err != nil {
		return &TransportError{Op: "reset bitmode", Err: err}
	}
	return nil
}

// Transaction asserts CS, shifts out tx MSB first, shifts in len(rx) bytes,
// and deasserts CS. The whole exchange is batched into one buffer and
// flushed as a single transfer, followed by one bounded read; transactions
// too large for the command buffer fail with ErrBufferOverflow and must be
// split by the caller.
func (s *SPI) Transaction(tx, rx []byte) error {
	if len(tx) == 0 && len(rx) == 0 {
		return nil
	}
	d := s.dev
	d.ClearBuffer()

	// Assert CS. No separate flush: CS setup time is nanoseconds, the
	// inter-command time inside the shifter is plenty.
	if err := d.QueueBytes([]byte{cmdSetBitsLow, s.idle &^ spiCS, spiOut}); err != nil {
		return err
	}
	if len(tx) > 0 {
		n := len(tx) - 1 // byte-mode length is encoded minus one
		if err := d.QueueBytes([]byte{s.writeOp, byte(n), byte(n >> 8)}); err != nil {
			return err
		}
		if err := d.QueueBytes(tx); err != nil {
			return err
		}
	}
	if len(rx) > 0 {
		n := len(rx) - 1
		if err := d.QueueBytes([]byte{s.readOp, byte(n), byte(n >> 8), cmdSendImmediate}); err != nil {
			return err
		}
	}
	if err := d.QueueBytes([]byte{cmdSetBitsLow, s.idle, spiOut}); err != nil {
		return err
	}

	if err := d.Flush(); err != nil {
		return err
	}
	if len(rx) > 0 {
		return d.ReadExact(rx)
	}
	return nil
}
