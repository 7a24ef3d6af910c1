package mpsse

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow is returned when queueing bytes would exceed the
	// command buffer capacity. The buffer is left unchanged; the caller
	// must split the work into smaller batches.
	ErrBufferOverflow = errors.New("mpsse: command buffer overflow")

	// ErrReadTimeout is returned when an expected response did not arrive
	// within the read deadline. It is distinct from TransportError because
	// it may simply mean a disconnected target rather than a bus fault.
	ErrReadTimeout = errors.New("mpsse: read timed out")

	// ErrSyncFailed is returned when the bad-command echo pattern was not
	// observed, meaning the command stream cannot be trusted to be
	// byte-aligned.
	ErrSyncFailed = errors.New("mpsse: synchronization failed")

	// ErrInvalidArgument marks caller bugs (bad frequency, bad address).
	ErrInvalidArgument = errors.New("mpsse: invalid argument")
)

// TransportError wraps a USB-level fault: a failed or short write, a read
// error, or more response bytes than were requested. The chip's internal
// state after a partial transfer is not reliably recoverable, so these are
// fatal to the current operation and never retried internally.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "mpsse: transport error: " + e.Op
	}
	return fmt.Sprintf("mpsse: transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportf(format string, params ...interface{}) error {
	return &TransportError{Op: fmt.Sprintf(format, params...)}
}

// NackError reports a byte that should have been acknowledged but was not.
// A NACK is a normal bus outcome (absent or busy target), not a transport
// fault; callers decide whether to retry.
type NackError struct {
	Address bool // the address byte was NACKed
	Index   int  // data byte index, valid when Address is false
}

func (e *NackError) Error() string {
	if e.Address {
		return "mpsse: address byte not acknowledged"
	}
	return fmt.Sprintf("mpsse: data byte %d not acknowledged", e.Index)
}
