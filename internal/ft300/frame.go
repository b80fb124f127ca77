package ft300

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc16"
)

const (
	// FrameLen is the size of one streamed frame: marker + 6 int16 fields + CRC.
	FrameLen = 16

	payloadEnd = 14 // marker + fields, the CRC covers [0:payloadEnd]
	bodyLen    = FrameLen - 2
)

// StartMarker opens every streamed frame.
var StartMarker = []byte{0x20, 0x4E}

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum computes the CRC-16/MODBUS of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Validate reports whether frame is a full-length frame whose trailing
// little-endian CRC matches the first 14 bytes.
func Validate(frame []byte) bool {
	if len(frame) != FrameLen {
		return false
	}
	want := binary.LittleEndian.Uint16(frame[payloadEnd:FrameLen])
	return Checksum(frame[:payloadEnd]) == want
}

// EncodeFrame builds a valid frame carrying the six raw field values.
func EncodeFrame(raw [6]int16) []byte {
	frame := make([]byte, FrameLen)
	copy(frame, StartMarker)
	for i, v := range raw {
		binary.LittleEndian.PutUint16(frame[2+2*i:], uint16(v))
	}
	binary.LittleEndian.PutUint16(frame[payloadEnd:], Checksum(frame[:payloadEnd]))
	return frame
}

// Assemble turns one marker-terminated span read off the wire into a frame.
//
// The sensor sends the marker ahead of each frame, so a span read up to the
// next marker holds the previous frame's fields and CRC followed by that
// marker. The constant marker is put back in front and the 14 bytes before
// the trailing marker become the body; anything earlier is resync garbage.
func Assemble(span []byte) ([]byte, error) {
	if !bytes.HasSuffix(span, StartMarker) {
		return nil, fmt.Errorf("%w: %d bytes without marker", ErrReadTimeout, len(span))
	}
	body := span[:len(span)-len(StartMarker)]
	if len(body) < bodyLen {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, len(body), bodyLen)
	}
	frame := make([]byte, FrameLen)
	copy(frame, StartMarker)
	copy(frame[len(StartMarker):], body[len(body)-bodyLen:])
	return frame, nil
}

// Assembler reads successive candidate frames from a ByteSource.
type Assembler struct {
	src     ByteSource
	timeout time.Duration
}

// NewAssembler creates an Assembler reading from src.
func NewAssembler(src ByteSource, timeout time.Duration) *Assembler {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Assembler{src: src, timeout: timeout}
}

// Skip reads and discards one marker-terminated span.
func (a *Assembler) Skip() error {
	_, err := a.src.ReadUntil(StartMarker, a.timeout)
	return err
}

// Next returns the next 16-byte candidate frame. The frame is not validated.
func (a *Assembler) Next() ([]byte, error) {
	span, err := a.src.ReadUntil(StartMarker, a.timeout)
	if err != nil {
		if errors.Is(err, ErrReadTimeout) {
			return nil, fmt.Errorf("%w: %d bytes before timeout", ErrReadTimeout, len(span))
		}
		return nil, err
	}
	return Assemble(span)
}
