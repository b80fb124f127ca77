package ft300

import (
	"errors"
	"fmt"
)

var (
	// ErrCRC is returned when a frame's trailing checksum does not match its
	// contents. Wire noise produces it regularly; callers retry.
	ErrCRC = errors.New("ft300: crc mismatch")

	// ErrReadTimeout is returned when the read timeout elapsed before a
	// start marker arrived.
	ErrReadTimeout = errors.New("ft300: read timed out")

	// ErrShortFrame is returned when a start marker arrived but fewer than
	// 14 bytes preceded it.
	ErrShortFrame = errors.New("ft300: short frame")

	// ErrMalformedFrame is returned by Decode for buffers shorter than a frame.
	ErrMalformedFrame = errors.New("ft300: malformed frame")

	// ErrNotActive is returned by ReadSample outside the Started state.
	ErrNotActive = errors.New("ft300: session not active")

	// ErrModbus is returned when the streaming-enable register write fails.
	ErrModbus = errors.New("ft300: modbus write failed")
)

// FatalError ends a session. Op names the step that failed.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ft300: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsRecoverable reports whether err leaves the session usable so the caller
// may simply read again. Anything wrapped in a FatalError is not recoverable,
// even if it wraps ErrCRC (as a failed calibration does).
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return false
	}
	return errors.Is(err, ErrCRC) ||
		errors.Is(err, ErrReadTimeout) ||
		errors.Is(err, ErrShortFrame)
}
