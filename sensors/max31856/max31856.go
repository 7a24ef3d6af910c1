// Package max31856 reads the Maxim MAX31856 thermocouple-to-digital
// converter over SPI. The bus is injected as a Transactor, so any
// half-duplex SPI implementation works; mpsse.SPI in mode 3 is the
// intended one.
package max31856

import "time"

// Transactor is the SPI exchange the driver needs: shift out tx, then
// shift in len(rx) bytes, under one chip select.
type Transactor interface {
	Transaction(tx, rx []byte) error
}

const (
	writeBit = 0x80

	regCR0  = 0x00
	regCR1  = 0x01
	regCJTH = 0x0A // start of the cold-junction + thermocouple burst
)

// cr1TypeKAvg4 selects a type-K thermocouple with 4-sample averaging.
const cr1TypeKAvg4 = 0x23

// cr0OneShot triggers a single conversion.
const cr0OneShot = 0x40

// ConversionTime is how long a triggered one-shot conversion takes with
// 4-sample averaging. Reading earlier returns the previous result.
const ConversionTime = 300 * time.Millisecond

// Dev is one MAX31856 behind a chip select.
type Dev struct {
	spi Transactor
}

// New configures the converter for type-K, 4-sample averaged conversions.
func New(spi Transactor) (*Dev, error) {
	d := &Dev{spi: spi}
	if err := d.writeReg(regCR1, cr1TypeKAvg4); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) writeReg(reg, value byte) error {
	return d.spi.Transaction([]byte{reg | writeBit, value}, nil)
}

// TriggerOneShot starts a single conversion. Wait ConversionTime before
// reading.
func (d *Dev) TriggerOneShot() error {
	return d.writeReg(regCR0, cr0OneShot)
}

// Read returns the cold-junction and thermocouple temperatures in °C from
// the most recent conversion.
func (d *Dev) Read() (coldJunction, thermocouple float64, err error) {
	var buf [5]byte // CJTH CJTL LTCBH LTCBM LTCBL
	if err := d.spi.Transaction([]byte{regCJTH}, buf[:]); err != nil {
		return 0, 0, err
	}
	return DecodeColdJunction(buf[0], buf[1]), DecodeThermocouple(buf[2], buf[3], buf[4]), nil
}

// DecodeColdJunction converts the two cold-junction registers to °C: a
// 14-bit two's-complement value in units of 1/64 °C.
func DecodeColdJunction(hi, lo byte) float64 {
	raw := int16(uint16(hi)<<8 | uint16(lo))
	return float64(raw>>2) / 64
}

// DecodeThermocouple converts the three linearized thermocouple registers
// to °C: a 19-bit two's-complement value in units of 1/128 °C.
func DecodeThermocouple(hi, mid, lo byte) float64 {
	raw := int32(uint32(hi)<<24 | uint32(mid)<<16 | uint32(lo)<<8)
	return float64(raw>>13) / 128
}
