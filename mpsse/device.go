// Package mpsse turns the multi-protocol synchronous serial engine found in
// FTDI USB bridge chips (FT2232H and friends) into software-defined bus
// protocols. The chip only understands generic primitives: set pin levels
// and directions, shift bits with a chosen clock edge. The engines in this
// package sequence those primitives into I2C, SPI and WS2812B with the
// preconditions, postconditions and timing each protocol demands.
//
// The package never touches USB itself; it drives an injected Raw channel.
// Use mpsseopen to obtain one for real hardware.
package mpsse

import (
	"io"
	"math"
	"time"
)

// LogFunc receives diagnostic output. A nil LogFunc silences it.
type LogFunc func(format string, params ...interface{})

// Raw is the low-level bridge channel an engine drives: bulk writes of
// command bytes, bounded reads of response bytes, and bit-mode selection.
// A Read with nothing pending must return (0, nil) promptly rather than
// block; deadline handling lives in this package.
type Raw interface {
	io.ReadWriteCloser
	SetBitMode(mask byte, mode BitMode) error
}

// BufferSize is the capacity of the pending command buffer. It matches the
// 512-byte USB packet size of the chip: one flush is one transfer.
const BufferSize = 512

// readDeadline bounds every response poll. The chip's round trip is well
// under a millisecond with the latency timer at 1 ms; anything slower is a
// fault, not a slow bus.
const readDeadline = time.Millisecond

// Device owns one open bridge channel and the buffer of pending command
// bytes. Commands are batched and flushed as a single write because each
// flush is one USB transfer: issuing multi-step bus sequences byte by byte
// would let transport latency bleed into bus timing.
//
// A Device must be driven by exactly one engine at a time; interleaving two
// engines on the same Device is a caller error this package does not detect.
type Device struct {
	raw  Raw
	logf LogFunc

	buf    [BufferSize]byte
	buflen int
}

// NewDevice wraps a raw channel. logf may be nil.
func NewDevice(raw Raw, logf LogFunc) *Device {
	return &Device{raw: raw, logf: logf}
}

func (d *Device) log(format string, params ...interface{}) {
	if d.logf != nil {
		d.logf(format, params...)
	}
}

// Raw returns the underlying channel.
func (d *Device) Raw() Raw { return d.raw }

// Close releases the underlying channel.
func (d *Device) Close() error { return d.raw.Close() }

// ClearBuffer drops all pending command bytes. No I/O.
func (d *Device) ClearBuffer() { d.buflen = 0 }

// QueueByte appends one command byte to the pending buffer.
func (d *Device) QueueByte(b byte) error {
	if d.buflen >= BufferSize {
		return ErrBufferOverflow
	}
	d.buf[d.buflen] = b
	d.buflen++
	return nil
}

// QueueBytes appends a command sequence. The append is all or nothing: if it
// would overflow, the buffer is left unchanged and ErrBufferOverflow is
// returned.
func (d *Device) QueueBytes(p []byte) error {
	if d.buflen+len(p) > BufferSize {
		return ErrBufferOverflow
	}
	copy(d.buf[d.buflen:], p)
	d.buflen += len(p)
	return nil
}

// Flush writes all pending bytes as one transfer and empties the buffer.
// A short write is a transport fault, not retried: the chip may have latched
// a partial command and its state is no longer trustworthy.
func (d *Device) Flush() error {
	if d.buflen == 0 {
		return nil
	}
	n, err := d.raw.Write(d.buf[:d.buflen])
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != d.buflen {
		return transportf("short write: expect %d got %d", d.buflen, n)
	}
	d.buflen = 0
	return nil
}

// ReadExact fills p with response bytes, polling the channel until len(p)
// bytes arrived or the deadline elapsed. The wall-clock polling loop is
// deliberate: no blocking-with-wakeup primitive exists at this level.
// Receiving more bytes than requested means the command stream and response
// stream have desynchronized, which is fatal.
func (d *Device) ReadExact(p []byte) error {
	deadline := time.Now().Add(readDeadline)
	need := len(p)
	for {
		n, err := d.raw.Read(p[len(p)-need:])
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		if n > need {
			return transportf("read returned %d extra bytes", n-need)
		}
		need -= n
		if need == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrReadTimeout
		}
	}
}

// Sync validates that the command processor is byte-aligned. It must run
// once per engine attach, before the clock or pins are touched: a partial
// command latched by a previous session survives reopening the USB device,
// and only the bad-command echo proves the stream boundary.
//
// Two invalid opcodes are written; the chip echoes each back as 0xFA
// followed by the offending byte. The last four response bytes must equal
// that two-pair pattern within 10 ms, with a 100 µs settle so stale bytes
// from a prior session cannot satisfy an early match.
//
// The accumulator folds in at most the first 4 bytes of each individual
// read. That is only a true last-four-bytes match because sync-time reads
// arrive a couple of bytes at a time; see DESIGN.md.
func (d *Device) Sync() error {
	const want = 0xFAABFAAA

	bad := []byte{0xAB, 0xAA}
	n, err := d.raw.Write(bad)
	if err != nil {
		return &TransportError{Op: "sync write", Err: err}
	}
	if n != len(bad) {
		return transportf("sync short write: expect %d got %d", len(bad), n)
	}

	var acc uint32
	buf := make([]byte, 256)
	begin := time.Now()
	for {
		elapsed := time.Since(begin)
		if elapsed > 10*time.Millisecond {
			break
		}
		if elapsed > 100*time.Microsecond && acc == want {
			break
		}

		n, err := d.raw.Read(buf)
		if err != nil {
			return &TransportError{Op: "sync read", Err: err}
		}
		for i := 0; i < n && i < 4; i++ {
			acc = acc<<8 | uint32(buf[i])
		}
	}

	if acc != want {
		return ErrSyncFailed
	}
	return nil
}

// ClockProfile reports what SetClockFreq computed. Achievable frequencies
// are quantized by the integer divisor, so the relative error is reported,
// never rejected.
type ClockProfile struct {
	RequestedKHz float64
	ThreePhase   bool
	Adaptive     bool
	Divisor      int
	ActualKHz    float64
	Error        float64 // |actual-requested| / requested
}

// baseClockKHz is the shifter's base clock with the divide-by-5 prescaler
// disabled.
const baseClockKHz = 60000.0

// SetClockFreq programs the clock divisor that best approximates khz,
// optionally with 3-phase and adaptive clocking, and flushes the
// configuration to the chip. khz must be positive.
func (d *Device) SetClockFreq(khz float64, threePhase, adaptive bool) (ClockProfile, error) {
	if khz <= 0 {
		return ClockProfile{}, ErrInvalidArgument
	}

	target := khz
	if threePhase {
		target *= 1.5
	}
	div := int(math.Round(baseClockKHz/target/2 - 1))
	if div < 0 {
		div = 0
	}
	if div > 0xFFFF {
		div = 0xFFFF
	}
	actual := baseClockKHz / (float64(div+1) * 2)
	if threePhase {
		actual = actual / 3 * 2
	}

	p := ClockProfile{
		RequestedKHz: khz,
		ThreePhase:   threePhase,
		Adaptive:     adaptive,
		Divisor:      div,
		ActualKHz:    actual,
		Error:        math.Abs(actual-khz) / khz,
	}
	d.log("clock: requested %.2fkHz, divisor %d, actual %.2fkHz, error %.2f%%",
		khz, div, actual, p.Error*100)

	phase, adapt := cmdDisable3Phase, cmdDisableAdaptive
	if threePhase {
		phase = cmdEnable3Phase
	}
	if adaptive {
		adapt = cmdEnableAdaptive
	}

	d.ClearBuffer()
	if err := d.QueueBytes([]byte{
		phase,
		adapt,
		cmdDisableClkDiv5,
		cmdSetTCKDivisor, byte(div), byte(div >> 8),
	}); err != nil {
		return p, err
	}
	return p, d.Flush()
}

// SetLowPins issues one state/direction change of the ADBUS0-7 pins and
// flushes it immediately. Consecutive buffered commands execute with no
// inter-byte delay, so transitions that need a hold time before the next
// one must each go through their own SetLowPins call: the USB round trip
// itself supplies the gap.
func (d *Device) SetLowPins(state, dir byte) error {
	if err := d.QueueBytes([]byte{cmdSetBitsLow, state, dir}); err != nil {
		return err
	}
	return d.Flush()
}
