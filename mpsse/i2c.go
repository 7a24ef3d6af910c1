package mpsse

// I2C line assignment on the low pin byte:
//
//	ADBUS0: SCL
//	ADBUS1: SDA output
//	ADBUS2: SDA input (tie to ADBUS1 externally)
//
// Add pull-up resistors if the adapter board has none.
const (
	i2cSCL    byte = 0x01
	i2cSDAOut byte = 0x02
	i2cPins   byte = i2cSCL | i2cSDAOut
)

// I2C implements a single-master two-wire bus on a Device. The host is the
// sole bus master; arbitration and clock stretching are not supported.
//
// Line-state preconditions and postconditions are part of each method's
// contract: chaining them correctly is what keeps the bus electrically
// consistent.
type I2C struct {
	dev    *Device
	sclKHz float64
}

// NewI2C attaches a two-wire bus engine to dev. sclKHz is the bus clock in
// kHz; 0 selects 400. The channel is switched into command mode,
// synchronized, clocked with 3-phase timing (data stable on both edges, as
// the bus requires), and both lines are released high.
//
// Only one engine may be attached to a Device at a time.
func NewI2C(dev *Device, sclKHz float64) (*I2C, error) {
	if sclKHz == 0 {
		sclKHz = 400
	}
	if sclKHz < 0 {
		return nil, ErrInvalidArgument
	}

	if err := dev.raw.SetBitMode(0xFF, BitModeMPSSE); err != nil {
		return nil, &TransportError{Op: "set bitmode", Err: err}
	}

	b := &I2C{dev: dev, sclKHz: sclKHz}
	if err := dev.Sync(); err != nil {
		return nil, err
	}
	if _, err := dev.SetClockFreq(sclKHz, true, false); err != nil {
		return nil, err
	}
	// Idle bus: both lines driven high.
	dev.ClearBuffer()
	if err := dev.SetLowPins(i2cPins, i2cPins); err != nil {
		return nil, err
	}
	return b, nil
}

// Close leaves command mode. The Device stays open.
func (b *I2C) Close() error {
	if err := b.dev.raw.SetBitMode(0xFF, BitModeReset); err != nil {
		return &TransportError{Op: "reset bitmode", Err: err}
	}
	return nil
}

// AddrByte converts a 7-bit address and direction into the 8-bit byte sent
// on the wire.
func AddrByte(addr7 byte, read bool) byte {
	b := addr7 << 1
	if read {
		b |= 1
	}
	return b
}

// Start issues a start condition, marking the bus busy.
//
// Precondition: both lines high. Postcondition: both lines low.
//
//	SDA ‾‾\____
//	SCL ‾‾‾‾\__
//
// The two transitions are separately flushed pin commands: the start hold
// time comes from the USB round trip between them.
func (b *I2C) Start() error {
	if err := b.dev.SetLowPins(i2cSCL, i2cPins); err != nil {
		return err
	}
	return b.dev.SetLowPins(0, i2cPins)
}

// Restart issues a repeated start without releasing the bus to idle.
//
// Precondition: both lines low. Postcondition: both lines low.
//
//	SDA ___/‾‾‾\___
//	SCL _____/‾‾‾\__
func (b *I2C) Restart() error {
	for _, state := range []byte{i2cSDAOut, i2cPins, i2cSCL, 0} {
		if err := b.dev.SetLowPins(state, i2cPins); err != nil {
			return err
		}
	}
	return nil
}

// Stop issues a stop condition, releasing the bus to idle.
//
// Precondition: both lines low. Postcondition: both lines high.
//
//	SDA ____/‾‾
//	SCL __/‾‾‾‾
func (b *I2C) Stop() error {
	if err := b.dev.SetLowPins(i2cSCL, i2cPins); err != nil {
		return err
	}
	return b.dev.SetLowPins(i2cPins, i2cPins)
}

// WriteByte clocks out one byte MSB first and clocks in the acknowledge
// bit, reporting whether the target ACKed.
//
// Precondition: both lines low. Postcondition: both lines low.
func (b *I2C) WriteByte(value byte) (bool, error) {
	d := b.dev
	d.ClearBuffer()
	err := d.QueueBytes([]byte{
		// Shift out 8 bits. Data must be stable while SCL is high, so the
		// idle-low write edge is the only correct choice.
		idleLowWrite | flagBitMode, 0x07, value,

		// Release the SDA driver so the target can pull the line for ACK.
		// No time gap needed: 3-phase clocking holds data a third of a
		// cycle past the pulse.
		cmdSetBitsLow, 0x00, i2cSCL,

		// Clock in the single acknowledge bit.
		idleLowRead | flagBitMode, 0x00,

		// Push the result back to the host now instead of waiting for the
		// latency timer, keeping the round trip short.
		cmdSendImmediate,

		// Reacquire SDA and hold it low. Could be deferred to the next
		// operation, but doing it here keeps every method's postcondition
		// uniform.
		cmdSetBitsLow, 0x00, i2cPins,
	})
	if err != nil {
		return false, err
	}
	if err := d.Flush(); err != nil {
		return false, err
	}

	var ack [1]byte
	if err := d.ReadExact(ack[:]); err != nil {
		return false, err
	}
	// The target drives the line low to acknowledge.
	return ack[0]&0x01 == 0, nil
}

// ReadBytes clocks in len(buf) bytes, acknowledging every byte except the
// last, which is NACKed to tell the target to stop driving the bus.
//
// Precondition: both lines low. Postcondition: both lines low.
//
// All per-byte command sequences are batched into one buffer and flushed
// together, followed by a single bulk read: a round trip per byte would
// make multi-byte reads unusably slow. The batch costs 11 command bytes
// per data byte, so reads beyond the buffer capacity fail with
// ErrBufferOverflow and must be split by the caller.
func (b *I2C) ReadBytes(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	d := b.dev
	d.ClearBuffer()
	for i := range buf {
		ackBit := byte(0)
		if i == len(buf)-1 {
			ackBit = 1
		}
		err := d.QueueBytes([]byte{
			// Release SDA for the incoming byte.
			cmdSetBitsLow, 0x00, i2cSCL,
			// Shift in 8 bits.
			idleLowRead | flagBitMode, 0x07,
			// Reacquire SDA.
			cmdSetBitsLow, 0x00, i2cPins,
			// Clock out the ACK/NACK bit. LSB-first keeps the bit in the
			// low position of the value byte.
			idleLowWrite | flagBitMode | flagLSBFirst, 0x00, ackBit,
		})
		if err != nil {
			return err
		}
	}
	if err := d.QueueByte(cmdSendImmediate); err != nil {
		return err
	}
	if err := d.Flush(); err != nil {
		return err
	}
	return d.ReadExact(buf)
}

// Transaction runs a complete write-then-optionally-read exchange with the
// 7-bit target addr7:
//
//	len(tx)>0, len(rx)=0: Start, write address, write tx, Stop
//	len(tx)=0, len(rx)>0: Start, read address, read rx, Stop
//	len(tx)>0, len(rx)>0: Start, write address, write tx, Restart,
//	                      read address, read rx, Stop
//
// A NACK where an ACK was required aborts with *NackError. The stop
// condition is issued on every exit path, error or not, so a failed
// transaction never leaves the bus stuck busy.
//
// Precondition: both lines high. Postcondition: both lines high.
func (b *I2C) Transaction(addr7 byte, tx, rx []byte) (err error) {
	if addr7 > 0x7F {
		return ErrInvalidArgument
	}

	if err := b.Start(); err != nil {
		return err
	}
	defer func() {
		serr := b.Stop()
		if err == nil {
			err = serr
		}
	}()

	if len(tx) > 0 {
		acked, werr := b.WriteByte(AddrByte(addr7, false))
		if werr != nil {
			return werr
		}
		if !acked {
			return &NackError{Address: true}
		}
		for i, v := range tx {
			acked, werr = b.WriteByte(v)
			if werr != nil {
				return werr
			}
			if !acked {
				return &NackError{Index: i}
			}
		}

		if len(rx) == 0 {
			return nil
		}
		if err := b.Restart(); err != nil {
			return err
		}
	}

	acked, werr := b.WriteByte(AddrByte(addr7, true))
	if werr != nil {
		return werr
	}
	if !acked {
		return &NackError{Address: true}
	}
	if len(rx) == 0 {
		return nil
	}
	return b.ReadBytes(rx)
}
