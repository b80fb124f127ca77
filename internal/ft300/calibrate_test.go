package ft300

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrate_UsesSecondSpan(t *testing.T) {
	offset := EncodeFrame([6]int16{1234, -567, 890, 111, -222, 333})
	// The first span is a complete valid frame but must still be discarded.
	src := &fakeSource{data: append(wire(unitFrame), wire(offset)...)}

	zero, err := Calibrate(NewAssembler(src, 0))
	require.NoError(t, err)
	assert.Equal(t, ZeroReference{12.34, -5.67, 8.9, 0.11, -0.22, 0.33}, zero)
}

func TestCalibrate_Idempotent(t *testing.T) {
	frame := EncodeFrame([6]int16{-3021, 47, 9999, -1, 250, 4321})
	stream := append(torn(), wire(frame, frame)...)

	first, err := Calibrate(NewAssembler(&fakeSource{data: stream}, 0))
	require.NoError(t, err)
	second, err := Calibrate(NewAssembler(&fakeSource{data: stream}, 0))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCalibrate_ZeroesCalibrationFrame(t *testing.T) {
	frame := EncodeFrame([6]int16{-3021, 47, 9999, -1, 250, 4321})
	src := &fakeSource{data: append(torn(), wire(frame, frame)...)}
	a := NewAssembler(src, 0)

	zero, err := Calibrate(a)
	require.NoError(t, err)

	next, err := a.Next()
	require.NoError(t, err)
	s, err := Decode(next, zero)
	require.NoError(t, err)
	for i := range s {
		assert.InDelta(t, 0, s[i], 0.005, "axis %d", i)
	}
}

func TestCalibrate_CRCFailureDoesNotRetry(t *testing.T) {
	bad := withCRC(unitFrame, 0)
	src := &fakeSource{data: append(torn(), wire(bad, unitFrame)...)}

	_, err := Calibrate(NewAssembler(src, 0))
	assert.ErrorIs(t, err, ErrCRC)
	// The good frame after the bad one is left unread.
	assert.Equal(t, wire(unitFrame), src.data)
}

// stallingSource times out on its first ReadUntil, returning a partial span,
// then serves its data.
type stallingSource struct {
	fakeSource
	partial []byte
	stalled bool
}

func (s *stallingSource) ReadUntil(marker []byte, timeout time.Duration) ([]byte, error) {
	if !s.stalled {
		s.stalled = true
		return s.partial, ErrReadTimeout
	}
	return s.fakeSource.ReadUntil(marker, timeout)
}

func TestCalibrate_DiscardTimeoutIsNotFatal(t *testing.T) {
	src := &stallingSource{
		fakeSource: fakeSource{data: wire(unitFrame)},
		partial:    []byte{0x12, 0x34},
	}

	zero, err := Calibrate(NewAssembler(src, 0))
	require.NoError(t, err)
	assert.Equal(t, ZeroReference{1, 1, 1, 1, 1, 1}, zero)
	assert.Empty(t, src.data)
}

func TestCalibrate_DiscardTransportErrorPropagates(t *testing.T) {
	broken := errors.New("device unplugged")
	src := &fakeSource{readErr: broken}

	_, err := Calibrate(NewAssembler(src, 0))
	assert.ErrorIs(t, err, broken)
}

func TestCalibrate_Timeout(t *testing.T) {
	_, err := Calibrate(NewAssembler(&fakeSource{data: torn()}, 0))
	assert.ErrorIs(t, err, ErrReadTimeout)
}
