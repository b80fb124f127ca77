package ft300

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_ModbusCheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x4B37), Checksum([]byte("123456789")))
}

func TestValidate_AppendedCRC(t *testing.T) {
	rng := rand.New(rand.NewSource(300))
	for i := 0; i < 200; i++ {
		frame := make([]byte, FrameLen)
		rng.Read(frame[:14])
		binary.LittleEndian.PutUint16(frame[14:], Checksum(frame[:14]))
		require.True(t, Validate(frame), "frame % X", frame)

		for bit := 0; bit < FrameLen*8; bit++ {
			flipped := append([]byte(nil), frame...)
			flipped[bit/8] ^= 1 << (bit % 8)
			assert.False(t, Validate(flipped), "bit %d of % X", bit, frame)
		}
	}
}

func TestValidate_WrongLength(t *testing.T) {
	assert.False(t, Validate(nil))
	assert.False(t, Validate(unitFrame[:15]))
	assert.False(t, Validate(append(append([]byte(nil), unitFrame...), 0)))
}

func TestEncodeFrame_Layout(t *testing.T) {
	frame := EncodeFrame([6]int16{100, -1, 0, 1000, 1000, -32768})
	require.Len(t, frame, FrameLen)
	assert.Equal(t, StartMarker, frame[:2])
	assert.Equal(t, []byte{0x64, 0x00}, frame[2:4])
	assert.Equal(t, []byte{0xFF, 0xFF}, frame[4:6])
	assert.Equal(t, []byte{0x00, 0x80}, frame[12:14])
	assert.True(t, Validate(frame))
}

func TestAssemble(t *testing.T) {
	body := unitFrame[2:]

	tests := []struct {
		name    string
		span    []byte
		want    []byte
		wantErr error
	}{
		{
			name: "exact span",
			span: append(append([]byte(nil), body...), StartMarker...),
			want: unitFrame,
		},
		{
			name: "leading garbage dropped",
			span: append(append([]byte{0xDE, 0xAD, 0xBE}, body...), StartMarker...),
			want: unitFrame,
		},
		{
			name:    "marker too early",
			span:    append([]byte{1, 2, 3, 4}, StartMarker...),
			wantErr: ErrShortFrame,
		},
		{
			name:    "marker only",
			span:    StartMarker,
			wantErr: ErrShortFrame,
		},
		{
			name:    "no marker",
			span:    body,
			wantErr: ErrReadTimeout,
		},
		{
			name:    "empty",
			wantErr: ErrReadTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Assemble(tt.span)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssembler_Next(t *testing.T) {
	src := &fakeSource{data: append(wire(unitFrame), 0x01, 0x02)}
	a := NewAssembler(src, 0)

	frame, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, unitFrame, frame)

	_, err = a.Next()
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.NotErrorIs(t, err, ErrShortFrame)
	assert.True(t, IsRecoverable(err))
}

func TestAssembler_NextTransportError(t *testing.T) {
	src := &fakeSource{readErr: assert.AnError}
	_, err := NewAssembler(src, 0).Next()
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, IsRecoverable(err))
}
