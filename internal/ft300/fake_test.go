package ft300

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// fakeSource serves a fixed byte stream and records writes.
type fakeSource struct {
	data    []byte
	readErr error // returned instead of ErrReadTimeout once data runs out
	written [][]byte
	closed  bool
}

func (f *fakeSource) ReadUntil(marker []byte, _ time.Duration) ([]byte, error) {
	if idx := bytes.Index(f.data, marker); idx >= 0 {
		n := idx + len(marker)
		out := f.data[:n]
		f.data = f.data[n:]
		return out, nil
	}
	out := f.data
	f.data = nil
	if f.readErr != nil {
		return out, f.readErr
	}
	return out, ErrReadTimeout
}

func (f *fakeSource) Read(b []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, ErrReadTimeout
	}
	n := copy(b, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *fakeSource) Write(b []byte) (int, error) {
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	f.written = append(f.written, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// fakeOpener hands out sources in order. failAt, when >= 0, makes that
// Open call fail instead.
type fakeOpener struct {
	sources []*fakeSource
	opened  int
	failAt  int
}

func (o *fakeOpener) Open() (ByteSource, error) {
	if o.opened == o.failAt {
		o.opened++
		return nil, errors.New("no such device")
	}
	if o.opened >= len(o.sources) {
		return nil, errors.New("unexpected open")
	}
	s := o.sources[o.opened]
	o.opened++
	return s, nil
}

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// wire lays frames out as they arrive mid-stream: each frame's body is
// followed by the marker that opens the next one.
func wire(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f[len(StartMarker):]...)
		out = append(out, StartMarker...)
	}
	return out
}

// torn is a partial frame left over from before streaming was enabled.
func torn() []byte {
	return append([]byte{0x12, 0x34, 0x56}, StartMarker...)
}

func echoResponse(addr byte) []byte {
	resp := append([]byte(nil), BuildWriteRegister(addr, StreamRegister, StreamEnableValue)[:6]...)
	return binary.LittleEndian.AppendUint16(resp, Checksum(resp))
}

func withCRC(frame []byte, crc uint16) []byte {
	out := append([]byte(nil), frame...)
	binary.LittleEndian.PutUint16(out[14:], crc)
	return out
}

var unitFrame = EncodeFrame([6]int16{100, 100, 100, 1000, 1000, 1000})
