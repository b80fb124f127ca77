package ft300

import (
	"errors"
	"fmt"
)

// Calibrate captures a zero reference from the live stream.
//
// The first span after the stream is (re)enabled is usually torn across the
// mode switch, so it is discarded unread. A discard that times out still
// counts as done. One discard has been enough on the sensors we have, but
// nothing in the protocol guarantees it. The next frame must pass its CRC;
// there is no retry.
func Calibrate(a *Assembler) (ZeroReference, error) {
	var zero ZeroReference
	if err := a.Skip(); err != nil && !errors.Is(err, ErrReadTimeout) {
		return zero, fmt.Errorf("discard torn frame: %w", err)
	}
	frame, err := a.Next()
	if err != nil {
		return zero, fmt.Errorf("read calibration frame: %w", err)
	}
	if !Validate(frame) {
		return zero, fmt.Errorf("calibration frame % X: %w", frame, ErrCRC)
	}
	s, err := Decode(frame, ZeroReference{})
	if err != nil {
		return zero, err
	}
	return ZeroReference(s), nil
}
