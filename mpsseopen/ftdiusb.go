package mpsseopen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/RecursiveG/ftdi-mpsse/mpsse"
)

// FTDI vendor control requests, as issued by libftdi.
const (
	reqReset           = 0x00
	reqSetEventChar    = 0x06
	reqSetErrorChar    = 0x07
	reqSetLatencyTimer = 0x09
	reqSetBitMode      = 0x0B

	resetSIO     = 0x0000
	resetPurgeRX = 0x0001
	resetPurgeTX = 0x0002
)

// latencyTimerMS is how long the chip sits on unread response bytes before
// pushing them to the host anyway. 1 ms keeps sub-millisecond round trips
// possible, matching the engines' read deadline; SEND_IMMEDIATE bypasses
// the timer entirely.
const latencyTimerMS = 1

// readTimeout bounds a single bulk IN request. The chip answers every poll
// once the latency timer fires, so this only trips when the device is gone.
const readTimeout = time.Millisecond

// Channel selects one of the FT2232H's two independent engines.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

// USBDevice is one claimed FTDI channel, driven with raw vendor requests
// and bulk transfers over libusb. It implements mpsse.Raw.
type USBDevice struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	index   uint16 // 1-based channel index used in control requests
	maxPkt  int
	pending []byte // response payload beyond what the last Read asked for
}

var _ mpsse.Raw = (*USBDevice)(nil)

func open(ctx *gousb.Context, pred func(*gousb.DeviceDesc) bool, ch Channel) (*USBDevice, error) {
	if ch != ChannelA && ch != ChannelB {
		ctx.Close()
		return nil, fmt.Errorf("mpsseopen: unknown channel %d", ch)
	}

	devs, err := ctx.OpenDevices(pred)
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("mpsseopen: open: %w", err)
		}
		return nil, errors.New("mpsseopen: no matching device found")
	}
	for _, d := range devs[1:] {
		d.Close()
	}

	u := &USBDevice{ctx: ctx, dev: devs[0], index: uint16(ch) + 1}
	if err := u.setup(ch); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

func (u *USBDevice) setup(ch Channel) error {
	// The kernel's ftdi_sio driver claims the channel as a TTY; take it
	// over for the duration.
	if err := u.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("mpsseopen: autodetach: %w", err)
	}

	var err error
	if u.cfg, err = u.dev.Config(1); err != nil {
		return fmt.Errorf("mpsseopen: claim config: %w", err)
	}
	if u.intf, err = u.cfg.Interface(int(ch), 0); err != nil {
		return fmt.Errorf("mpsseopen: claim interface: %w", err)
	}
	// Channel A is endpoints 0x81/0x02, channel B 0x83/0x04.
	if u.in, err = u.intf.InEndpoint(2*int(ch) + 1); err != nil {
		return fmt.Errorf("mpsseopen: in endpoint: %w", err)
	}
	if u.out, err = u.intf.OutEndpoint(2*int(ch) + 2); err != nil {
		return fmt.Errorf("mpsseopen: out endpoint: %w", err)
	}
	u.maxPkt = u.in.Desc.MaxPacketSize

	for _, c := range []struct {
		req uint8
		val uint16
	}{
		{reqReset, resetSIO},
		{reqReset, resetPurgeRX},
		{reqReset, resetPurgeTX},
		{reqSetEventChar, 0},
		{reqSetErrorChar, 0},
		{reqSetLatencyTimer, latencyTimerMS},
	} {
		if err := u.control(c.req, c.val); err != nil {
			return err
		}
	}
	return nil
}

func (u *USBDevice) control(req uint8, value uint16) error {
	rtype := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	if _, err := u.dev.Control(rtype, req, value, u.index, nil); err != nil {
		return fmt.Errorf("mpsseopen: control 0x%02x: %w", req, err)
	}
	return nil
}

// SetBitMode selects the chip's operating mode for this channel.
func (u *USBDevice) SetBitMode(mask byte, mode mpsse.BitMode) error {
	return u.control(reqSetBitMode, uint16(mode)<<8|uint16(mask))
}

// SetLatencyTimer reprograms the receive latency timer (1-255 ms).
func (u *USBDevice) SetLatencyTimer(ms int) error {
	if ms < 1 || ms > 255 {
		return mpsse.ErrInvalidArgument
	}
	return u.control(reqSetLatencyTimer, uint16(ms))
}

// PurgeBuffers drops everything in the chip's 4K transmit and receive
// FIFOs. Note a partially-received command stays latched inside the
// command processor; only a bit-mode reset clears that.
func (u *USBDevice) PurgeBuffers() error {
	u.pending = nil
	if err := u.control(reqReset, resetPurgeRX); err != nil {
		return err
	}
	return u.control(reqReset, resetPurgeTX)
}

// Write sends command bytes to the channel's OUT endpoint.
func (u *USBDevice) Write(p []byte) (int, error) {
	return u.out.Write(p)
}

// Read returns whatever response payload is available, up to len(p),
// without blocking past one latency-timer period. It returns (0, nil) when
// nothing has arrived, as mpsse.Raw requires.
//
// Every max-packet chunk the chip sends begins with two modem-status bytes
// that are stripped here; payload beyond len(p) is kept for the next call.
func (u *USBDevice) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(u.pending) > 0 {
		n := copy(p, u.pending)
		u.pending = u.pending[n:]
		return n, nil
	}

	buf := make([]byte, u.maxPkt)
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	n, err := u.in.ReadContext(ctx, buf)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, gousb.TransferCancelled) {
		return 0, err
	}

	payload := stripStatus(buf[:n], u.maxPkt)
	m := copy(p, payload)
	if m < len(payload) {
		u.pending = append(u.pending, payload[m:]...)
	}
	return m, nil
}

// stripStatus removes the two modem-status bytes that prefix every
// max-packet sized chunk of a bulk-in transfer.
func stripStatus(buf []byte, maxPkt int) []byte {
	var payload []byte
	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > maxPkt {
			chunk = chunk[:maxPkt]
		}
		if len(chunk) > 2 {
			payload = append(payload, chunk[2:]...)
		}
		buf = buf[len(chunk):]
	}
	return payload
}

// Close releases the interface and the USB device.
func (u *USBDevice) Close() error {
	var first error
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.cfg != nil {
		if err := u.cfg.Close(); err != nil && first == nil {
			first = err
		}
		u.cfg = nil
	}
	if u.dev != nil {
		if err := u.dev.Close(); err != nil && first == nil {
			first = err
		}
		u.dev = nil
	}
	if u.ctx != nil {
		if err := u.ctx.Close(); err != nil && first == nil {
			first = err
		}
		u.ctx = nil
	}
	return first
}
