package ft300

import (
	"bytes"
	"encoding/binary"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(o Opener) (*Controller, *[]time.Duration) {
	var slept []time.Duration
	c := NewController(o, DefaultSlaveAddress, 0, log.New(&bytes.Buffer{}, "", 0))
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestBuildWriteRegister(t *testing.T) {
	req := BuildWriteRegister(9, 410, 0x0200)
	require.Len(t, req, 11)
	assert.Equal(t, []byte{0x09, 0x10, 0x01, 0x9A, 0x00, 0x01, 0x02, 0x02, 0x00}, req[:9])
	assert.Equal(t, Checksum(req[:9]), binary.LittleEndian.Uint16(req[9:]))
}

func TestController_StopStream(t *testing.T) {
	src := &fakeSource{}
	c, slept := newTestController(&fakeOpener{sources: []*fakeSource{src}, failAt: -1})

	require.NoError(t, c.StopStream())
	require.Len(t, src.written, 1)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 50), src.written[0])
	assert.True(t, src.closed)
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, *slept)
}

func TestController_EnableStream(t *testing.T) {
	src := &fakeSource{data: echoResponse(DefaultSlaveAddress)}
	c, slept := newTestController(&fakeOpener{sources: []*fakeSource{src}, failAt: -1})

	require.NoError(t, c.EnableStream())
	require.Len(t, src.written, 1)
	assert.Equal(t, BuildWriteRegister(DefaultSlaveAddress, StreamRegister, StreamEnableValue), src.written[0])
	assert.True(t, src.closed)
	assert.Len(t, *slept, 1)
}

func TestController_EnableStreamFailures(t *testing.T) {
	exception := []byte{DefaultSlaveAddress, 0x90, 0x02}
	exception = binary.LittleEndian.AppendUint16(exception, Checksum(exception))

	badCRC := echoResponse(DefaultSlaveAddress)
	badCRC[7] ^= 0xFF

	wrongReg := []byte{DefaultSlaveAddress, 0x10, 0x00, 0x01, 0x00, 0x01}
	wrongReg = binary.LittleEndian.AppendUint16(wrongReg, Checksum(wrongReg))

	tests := []struct {
		name string
		resp []byte
	}{
		{"no response", nil},
		{"truncated", echoResponse(DefaultSlaveAddress)[:6]},
		{"exception", exception},
		{"bad crc", badCRC},
		{"wrong register", wrongReg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{data: tt.resp}
			c, slept := newTestController(&fakeOpener{sources: []*fakeSource{src}, failAt: -1})
			err := c.EnableStream()
			assert.ErrorIs(t, err, ErrModbus)
			assert.True(t, src.closed)
			assert.Empty(t, *slept)
		})
	}
}

func TestController_OpenFailure(t *testing.T) {
	c, _ := newTestController(&fakeOpener{failAt: 0})
	assert.Error(t, c.StopStream())
}
