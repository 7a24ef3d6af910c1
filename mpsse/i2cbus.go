package mpsse

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// *I2C satisfies periph.io's i2c.Bus, so existing periph device drivers can
// run on top of the MPSSE engine unchanged.
var _ i2c.BusCloser = (*I2C)(nil)

func (b *I2C) String() string { return "mpsse-i2c" }

// Tx implements i2c.Bus. Only 7-bit addresses are supported.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return ErrInvalidArgument
	}
	return b.Transaction(byte(addr), w, r)
}

// SetSpeed implements i2c.Bus by reprogramming the clock divisor.
func (b *I2C) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return ErrInvalidArgument
	}
	khz := float64(f) / float64(physic.KiloHertz)
	if _, err := b.dev.SetClockFreq(khz, true, false); err != nil {
		return err
	}
	b.sclKHz = khz
	return nil
}
