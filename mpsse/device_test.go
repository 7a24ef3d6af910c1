package mpsse

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// fakeRaw scripts the bridge channel: writes are recorded, reads pop queued
// chunks (empty queue reads return 0 bytes, like hardware with nothing
// pending).
type fakeRaw struct {
	writes   [][]byte
	reads    [][]byte
	bitmodes []BitMode

	writeErr   error
	shortWrite bool
	readErr    error
}

func (f *fakeRaw) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.shortWrite {
		return len(p) / 2, nil
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeRaw) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	chunk := f.reads[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		f.reads[0] = chunk[n:]
	} else {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakeRaw) SetBitMode(mask byte, mode BitMode) error {
	f.bitmodes = append(f.bitmodes, mode)
	return nil
}

func (f *fakeRaw) Close() error { return nil }

// syncEcho is the response the chip gives to the two bad commands Sync
// writes.
func syncEcho() []byte { return []byte{0xFA, 0xAB, 0xFA, 0xAA} }

func TestQueueBytesAllOrNothing(t *testing.T) {
	d := NewDevice(&fakeRaw{}, nil)

	first := bytes.Repeat([]byte{0x5A}, BufferSize-2)
	if err := d.QueueBytes(first); err != nil {
		t.Fatalf("QueueBytes(%d bytes) failed: %v", len(first), err)
	}

	before := append([]byte(nil), d.buf[:d.buflen]...)
	if err := d.QueueBytes([]byte{1, 2, 3}); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("overflowing append returned %v, want ErrBufferOverflow", err)
	}
	if d.buflen != len(before) || !bytes.Equal(d.buf[:d.buflen], before) {
		t.Error("rejected append mutated the buffer")
	}

	// The remaining room is still usable.
	if err := d.QueueBytes([]byte{1, 2}); err != nil {
		t.Fatalf("QueueBytes after rejected append failed: %v", err)
	}
}

func TestQueueByteOverflow(t *testing.T) {
	d := NewDevice(&fakeRaw{}, nil)
	for i := 0; i < BufferSize; i++ {
		if err := d.QueueByte(byte(i)); err != nil {
			t.Fatalf("QueueByte #%d failed: %v", i, err)
		}
	}
	if err := d.QueueByte(0); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("QueueByte on full buffer returned %v, want ErrBufferOverflow", err)
	}
}

func TestFlushEmptyIsNoIO(t *testing.T) {
	raw := &fakeRaw{}
	d := NewDevice(raw, nil)
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() on empty buffer failed: %v", err)
	}
	if len(raw.writes) != 0 {
		t.Errorf("empty flush issued %d writes", len(raw.writes))
	}
}

func TestFlushWritesExactlyOnceAndClears(t *testing.T) {
	raw := &fakeRaw{}
	d := NewDevice(raw, nil)
	payload := []byte{0x80, 0x03, 0x03}
	if err := d.QueueBytes(payload); err != nil {
		t.Fatal(err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if len(raw.writes) != 1 || !bytes.Equal(raw.writes[0], payload) {
		t.Errorf("Flush() wrote %v, want one write of %v", raw.writes, payload)
	}
	if d.buflen != 0 {
		t.Errorf("buffer not cleared after flush: %d bytes left", d.buflen)
	}
}

func TestFlushShortWrite(t *testing.T) {
	raw := &fakeRaw{shortWrite: true}
	d := NewDevice(raw, nil)
	if err := d.QueueBytes([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	err := d.Flush()
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("short write returned %v, want *TransportError", err)
	}
}

func TestReadExactTwoDeliveries(t *testing.T) {
	raw := &fakeRaw{reads: [][]byte{{1, 2}, {3, 4, 5}}}
	d := NewDevice(raw, nil)
	buf := make([]byte, 5)
	if err := d.ReadExact(buf); err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if want := []byte{1, 2, 3, 4, 5}; !bytes.Equal(buf, want) {
		t.Errorf("ReadExact collected %v, want %v", buf, want)
	}
}

func TestReadExactTimeout(t *testing.T) {
	d := NewDevice(&fakeRaw{}, nil)
	buf := make([]byte, 2)

	start := time.Now()
	err := d.ReadExact(buf)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("ReadExact returned %v, want ErrReadTimeout", err)
	}
	if elapsed < readDeadline || elapsed > 50*readDeadline {
		t.Errorf("timeout after %v, want roughly %v", elapsed, readDeadline)
	}
}

func TestReadExactPartialThenTimeout(t *testing.T) {
	raw := &fakeRaw{reads: [][]byte{{1}}}
	d := NewDevice(raw, nil)
	buf := make([]byte, 3)
	if err := d.ReadExact(buf); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("ReadExact returned %v, want ErrReadTimeout", err)
	}
}

func TestSync(t *testing.T) {
	raw := &fakeRaw{reads: [][]byte{syncEcho()}}
	d := NewDevice(raw, nil)
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(raw.writes) != 1 || !bytes.Equal(raw.writes[0], []byte{0xAB, 0xAA}) {
		t.Errorf("Sync wrote %v, want the two bad commands 0xAB 0xAA", raw.writes)
	}
}

func TestSyncSplitDelivery(t *testing.T) {
	raw := &fakeRaw{reads: [][]byte{{0xFA}, {0xAB}, {0xFA, 0xAA}}}
	d := NewDevice(raw, nil)
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync with split echo failed: %v", err)
	}
}

func TestSyncFailure(t *testing.T) {
	raw := &fakeRaw{reads: [][]byte{{0x01, 0x02, 0x03, 0x04}}}
	d := NewDevice(raw, nil)

	start := time.Now()
	err := d.Sync()
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("Sync returned %v, want ErrSyncFailed", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Sync gave up after %v, want the full 10ms deadline", elapsed)
	}
}

func TestSetClockFreq(t *testing.T) {
	tests := []struct {
		khz        float64
		threePhase bool
		divisor    int
		actualKHz  float64
	}{
		{400, true, 49, 400},
		{100, true, 199, 100},
		{2500, false, 11, 2500},
		{1000, false, 29, 1000},
		// Requests above the achievable maximum clamp to divisor 0.
		{60000, false, 0, 30000},
		// Requests below the achievable minimum clamp to divisor 65535.
		{0.1, false, 0xFFFF, 60000.0 / (65536 * 2)},
	}
	for _, tt := range tests {
		raw := &fakeRaw{}
		d := NewDevice(raw, nil)
		p, err := d.SetClockFreq(tt.khz, tt.threePhase, false)
		if err != nil {
			t.Errorf("SetClockFreq(%v, %v) failed: %v", tt.khz, tt.threePhase, err)
			continue
		}
		if p.Divisor != tt.divisor {
			t.Errorf("SetClockFreq(%v, %v) divisor = %d, want %d", tt.khz, tt.threePhase, p.Divisor, tt.divisor)
		}
		if diff := p.ActualKHz - tt.actualKHz; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("SetClockFreq(%v, %v) actual = %v, want %v", tt.khz, tt.threePhase, p.ActualKHz, tt.actualKHz)
		}
		if p.Divisor < 0 || p.Divisor > 0xFFFF {
			t.Errorf("divisor %d out of range", p.Divisor)
		}
	}
}

func TestSetClockFreqCommandBytes(t *testing.T) {
	raw := &fakeRaw{}
	d := NewDevice(raw, nil)
	if _, err := d.SetClockFreq(400, true, false); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		cmdEnable3Phase,
		cmdDisableAdaptive,
		cmdDisableClkDiv5,
		cmdSetTCKDivisor, 49, 0,
	}
	if len(raw.writes) != 1 || !bytes.Equal(raw.writes[0], want) {
		t.Errorf("SetClockFreq flushed %v, want %v", raw.writes, want)
	}
}

func TestSetClockFreqBadFrequency(t *testing.T) {
	d := NewDevice(&fakeRaw{}, nil)
	for _, khz := range []float64{0, -1, -400} {
		if _, err := d.SetClockFreq(khz, false, false); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetClockFreq(%v) returned %v, want ErrInvalidArgument", khz, err)
		}
	}
}

func TestSetLowPins(t *testing.T) {
	raw := &fakeRaw{}
	d := NewDevice(raw, nil)
	if err := d.SetLowPins(0x03, 0x03); err != nil {
		t.Fatal(err)
	}
	want := []byte{cmdSetBitsLow, 0x03, 0x03}
	if len(raw.writes) != 1 || !bytes.Equal(raw.writes[0], want) {
		t.Errorf("SetLowPins flushed %v, want one write of %v", raw.writes, want)
	}
}
