package mpsse

// WS2812B drives a string of addressable RGB pixels from the shifter's data
// output (ADBUS1). The string's single-wire protocol encodes each logical
// bit as a 3-bit pulse group clocked at 2.5 MHz:
//
//	0 -> 100 (0.4 µs high, 0.8 µs low)
//	1 -> 110 (0.8 µs high, 0.4 µs low)
//
// Holding the line low for 125 bit periods (50 µs) resets the string to the
// first pixel, which is how a frame ends. The protocol is unidirectional:
// nothing is read back.
type WS2812B struct {
	dev *Device
}

// wsBitRateKHz is the shift clock. One pulse-group bit is 0.4 µs, one
// pixel byte is 24 of them (9.6 µs), one pixel 28.8 µs.
const wsBitRateKHz = 2500

// wsResetBits is the number of low bit periods the string interprets as
// end of frame. Any gap in the pulse train longer than this truncates the
// frame, which is why a frame must go out as one continuous train.
const wsResetBits = 125

// NewWS2812B attaches a pixel-string engine to dev: command mode,
// synchronization, 2.5 MHz two-phase clock, data line driven low.
//
// Only one engine may be attached to a Device at a time.
func NewWS2812B(dev *Device) (*WS2812B, error) {
	if err := dev.raw.SetBitMode(0xFF, BitModeMPSSE); err != nil {
		return nil, &TransportError{Op: "set bitmode", Err: err}
	}
	if err := dev.Sync(); err != nil {
		return nil, err
	}
	if _, err := dev.SetClockFreq(wsBitRateKHz, false, false); err != nil {
		return nil, err
	}
	dev.ClearBuffer()
	if err := dev.SetLowPins(0x00, 0x03); err != nil {
		return nil, err
	}
	return &WS2812B{dev: dev}, nil
}

// Close leaves command mode. The Device stays open.
func (w *WS2812B) Close() error {
	if err := w.dev.raw.SetBitMode(0xFF, BitModeReset); err != nil {
		return &TransportError{Op: "reset bitmode", Err: err}
	}
	return nil
}

// ExpandByte maps the 8 bits of b, MSB first, to their 3-bit pulse groups,
// yielding the 24-bit (3-byte) wire image of one colour byte.
func ExpandByte(b byte) [3]byte {
	var bits uint32
	for i := 7; i >= 0; i-- {
		bits <<= 3
		if b&(1<<i) != 0 {
			bits |= 0b110
		} else {
			bits |= 0b100
		}
	}
	return [3]byte{byte(bits >> 16), byte(bits >> 8), byte(bits)}
}

// SendRaw transmits a pulse train, MSB of each byte first, and flushes.
// The train must consist of the 3-bit groups ExpandByte produces; in
// particular its final bit is 0, returning the line to idle low.
//
// Trains larger than the command buffer are split across several shift-out
// commands and transfers. The chip's 4K transmit FIFO absorbs the seams as
// long as the host keeps writing, so the pulse train stays gap-free.
func (w *WS2812B) SendRaw(train []byte) error {
	d := w.dev
	d.ClearBuffer()
	for len(train) > 0 {
		room := BufferSize - d.buflen - 3
		if room <= 0 {
			if err := d.Flush(); err != nil {
				return err
			}
			continue
		}
		chunk := train
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		n := len(chunk) - 1
		if err := d.QueueBytes([]byte{idleLowWrite, byte(n), byte(n >> 8)}); err != nil {
			return err
		}
		if err := d.QueueBytes(chunk); err != nil {
			return err
		}
		train = train[len(chunk):]
	}
	return d.Flush()
}

// SendFrame transmits one complete frame, one 0x00RRGGBB value per pixel
// (top byte ignored; bytes go out on the wire in the string's
// green-red-blue order). The whole frame is accumulated into a single
// pulse train before anything is sent: a pause mid-frame longer than the
// reset threshold would latch a partial frame.
//
// Frames are not retained; every call supplies a complete, independent
// frame. The end-of-frame reset comes for free from the idle gap before
// the next call.
func (w *WS2812B) SendFrame(pixels []uint32) error {
	train := make([]byte, 0, len(pixels)*9)
	for _, p := range pixels {
		for _, c := range [3]byte{byte(p >> 8), byte(p >> 16), byte(p)} {
			g := ExpandByte(c)
			train = append(train, g[0], g[1], g[2])
		}
	}
	return w.SendRaw(train)
}
