package ft300

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	forceScale  = 100.0  // raw counts per newton
	torqueScale = 1000.0 // raw counts per newton-meter
)

// Sample is one force/torque reading: Fx, Fy, Fz in N then Tx, Ty, Tz in N·m.
type Sample [6]float64

// Force returns Fx, Fy, Fz in N.
func (s Sample) Force() [3]float64 { return [3]float64{s[0], s[1], s[2]} }

// Torque returns Tx, Ty, Tz in N·m.
func (s Sample) Torque() [3]float64 { return [3]float64{s[3], s[4], s[5]} }

// ZeroReference is the baseline subtracted from every decoded sample.
type ZeroReference [6]float64

// Decode converts a frame into physical units relative to zero. Each axis is
// scaled, offset, and only then rounded to two decimals.
func Decode(frame []byte, zero ZeroReference) (Sample, error) {
	var s Sample
	if len(frame) < FrameLen {
		return s, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	for i := range s {
		raw := int16(binary.LittleEndian.Uint16(frame[2+2*i:]))
		scale := forceScale
		if i >= 3 {
			scale = torqueScale
		}
		s[i] = round2(float64(raw)/scale - zero[i])
	}
	return s, nil
}

// round2 rounds half-to-even on the exact binary value, so 0.125 becomes 0.12
// while 2.675 (stored as 2.67499...) becomes 2.67.
func round2(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}
