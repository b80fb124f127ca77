package ft300

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"time"

	"go.bug.st/serial"
)

// Serial line defaults for the FT300.
const (
	DefaultBaudRate     = 19200
	DefaultReadTimeout  = 1 * time.Second
	DefaultSlaveAddress = 9
)

// ByteSource is a blocking byte stream with marker-delimited reads.
type ByteSource interface {
	io.ReadWriteCloser

	// ReadUntil returns everything up to and including the first occurrence
	// of marker. If timeout elapses first, it returns what it has so far
	// together with ErrReadTimeout.
	ReadUntil(marker []byte, timeout time.Duration) ([]byte, error)
}

// Opener opens a fresh ByteSource on each call. The control channel and the
// streaming reader each open their own handle, one after the other.
type Opener interface {
	Open() (ByteSource, error)
}

// SerialConfig holds serial port settings for the sensor.
type SerialConfig struct {
	PortPath    string        `yaml:"port_path" json:"portPath"`
	BaudRate    int           `yaml:"baud_rate" json:"baudRate"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"readTimeout"`
}

// SerialOpener opens the sensor's serial port with go.bug.st/serial.
type SerialOpener struct {
	cfg SerialConfig
}

// NewSerialOpener creates an opener, applying 19200 baud and a 1s read
// timeout where cfg leaves them unset.
func NewSerialOpener(cfg SerialConfig) *SerialOpener {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &SerialOpener{cfg: cfg}
}

// Open opens the port 8N1.
func (o *SerialOpener) Open() (ByteSource, error) {
	mode := &serial.Mode{
		BaudRate: o.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(o.cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("ft300: failed to open %s: %w", o.cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(o.cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("ft300: failed to set timeout: %w", err)
	}
	log.Printf("[ft300] opened %s at %d baud", o.cfg.PortPath, o.cfg.BaudRate)
	return newPortSource(port, o.cfg.ReadTimeout), nil
}

// timeoutPort is the part of serial.Port that portSource needs. Read
// returns 0, nil when the read timeout expires.
type timeoutPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// portSource adds marker-delimited reads on top of a timeoutPort. Bytes read
// past a marker are kept for the next call.
type portSource struct {
	port    timeoutPort
	timeout time.Duration
	pending []byte
	buf     []byte
}

func newPortSource(port timeoutPort, timeout time.Duration) *portSource {
	return &portSource{
		port:    port,
		timeout: timeout,
		buf:     make([]byte, 64),
	}
}

func (p *portSource) ReadUntil(marker []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if idx := bytes.Index(p.pending, marker); idx >= 0 {
			n := idx + len(marker)
			out := append([]byte(nil), p.pending[:n]...)
			p.pending = p.pending[n:]
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			out := p.pending
			p.pending = nil
			return out, ErrReadTimeout
		}
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("ft300: set timeout: %w", err)
		}
		n, err := p.port.Read(p.buf)
		if n > 0 {
			p.pending = append(p.pending, p.buf[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("ft300: read: %w", err)
		}
	}
}

// Read drains buffered bytes first. A read that times out with nothing
// returns ErrReadTimeout instead of 0, nil so io.ReadFull terminates.
func (p *portSource) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}
	if err := p.port.SetReadTimeout(p.timeout); err != nil {
		return 0, fmt.Errorf("ft300: set timeout: %w", err)
	}
	n, err := p.port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrReadTimeout
	}
	return n, err
}

func (p *portSource) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *portSource) Close() error {
	p.pending = nil
	return p.port.Close()
}
