// Package mcp9808 reads the Microchip MCP9808 I2C temperature sensor. It is
// written against periph.io's i2c.Bus, so it runs equally over an
// mpsse.I2C engine or a platform bus.
package mcp9808

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// DefaultAddr is the sensor's address with all address pins grounded.
const DefaultAddr = 0x18

// ManufacturerID is the value the manufacturer-ID register must return.
const ManufacturerID = 0x0054

const (
	regConfig         = 0x01
	regTemperature    = 0x05
	regManufacturerID = 0x06
	regDeviceIDRev    = 0x07
	regResolution     = 0x08
)

// Resolution is the sensor's configured conversion resolution.
type Resolution byte

func (r Resolution) String() string {
	switch r {
	case 0:
		return "0.5 °C"
	case 1:
		return "0.25 °C"
	case 2:
		return "0.125 °C"
	case 3:
		return "0.0625 °C"
	}
	return fmt.Sprintf("unknown(%d)", byte(r))
}

// Dev is one MCP9808 on a bus.
type Dev struct {
	c *i2c.Dev
}

// New returns a device at addr on bus. addr 0 selects DefaultAddr.
func New(bus i2c.Bus, addr uint16) *Dev {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &Dev{c: &i2c.Dev{Bus: bus, Addr: addr}}
}

func (d *Dev) readReg(reg byte, buf []byte) error {
	return d.c.Tx([]byte{reg}, buf)
}

// Detect verifies the manufacturer ID.
func (d *Dev) Detect() error {
	id, err := d.ManufacturerID()
	if err != nil {
		return err
	}
	if id != ManufacturerID {
		return fmt.Errorf("mcp9808: unexpected manufacturer ID %#06x", id)
	}
	return nil
}

func (d *Dev) ManufacturerID() (uint16, error) {
	var buf [2]byte
	if err := d.readReg(regManufacturerID, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// DeviceID reports the device ID and silicon revision.
func (d *Dev) DeviceID() (id, revision byte, err error) {
	var buf [2]byte
	if err := d.readReg(regDeviceIDRev, buf[:]); err != nil {
		return 0, 0, err
	}
	return buf[0], buf[1], nil
}

func (d *Dev) Resolution() (Resolution, error) {
	var buf [1]byte
	if err := d.readReg(regResolution, buf[:]); err != nil {
		return 0, err
	}
	return Resolution(buf[0]), nil
}

// Temperature reads the ambient temperature in °C.
func (d *Dev) Temperature() (float64, error) {
	var buf [2]byte
	if err := d.readReg(regTemperature, buf[:]); err != nil {
		return 0, err
	}
	return DecodeTemperature(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

// DecodeTemperature converts the raw big-endian temperature register value
// to °C. The value is a 13-bit two's-complement number in units of 1/16 °C;
// the top three flag bits are discarded by the shift pair.
func DecodeTemperature(raw uint16) float64 {
	return float64(int16(raw<<3)>>3) / 16
}
