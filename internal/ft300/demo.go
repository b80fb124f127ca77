package ft300

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"
)

// DemoConfig controls the simulated sensor.
type DemoConfig struct {
	RateHz       int `yaml:"rate_hz" json:"rateHz"`             // frames per second, 0 means unpaced
	CorruptEvery int `yaml:"corrupt_every" json:"corruptEvery"` // zero the CRC of every Nth frame, 0 disables
}

// DemoOpener simulates an FT300 for development and testing. Every handle
// it opens talks to the same simulated device.
type DemoOpener struct {
	dev *demoDevice
}

// NewDemoOpener creates a simulated sensor that starts with streaming off.
func NewDemoOpener(cfg DemoConfig) *DemoOpener {
	var interval time.Duration
	if cfg.RateHz > 0 {
		interval = time.Second / time.Duration(cfg.RateHz)
	}
	return &DemoOpener{dev: &demoDevice{interval: interval, corruptEvery: cfg.CorruptEvery}}
}

func (o *DemoOpener) Open() (ByteSource, error) {
	return &demoSource{dev: o.dev}, nil
}

type demoDevice struct {
	mu           sync.Mutex
	streaming    bool
	interval     time.Duration
	corruptEvery int
	frames       int
	t            float64 // virtual time accumulator
}

// nextFrame simulates a slowly swinging load with a little sensor noise.
func (d *demoDevice) nextFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.01
	d.frames++

	var frame []byte
	// Re-roll the noise until no marker appears inside the frame, so the
	// simulated stream never desynchronizes on its own.
	for frame == nil || bytes.Contains(frame[len(StartMarker):], StartMarker) {
		var raw [6]int16
		for i := range raw {
			phase := float64(i) * math.Pi / 3
			amp := 1500.0 // 15 N
			if i >= 3 {
				amp = 400.0 // 0.4 Nm
			}
			raw[i] = int16(amp*math.Sin(d.t*0.5+phase) + rand.Float64()*4 - 2)
		}
		frame = EncodeFrame(raw)
	}
	if d.corruptEvery > 0 && d.frames%d.corruptEvery == 0 {
		frame[14], frame[15] = 0, 0
	}
	return frame
}

func (d *demoDevice) setStreaming(on bool) {
	d.mu.Lock()
	d.streaming = on
	d.mu.Unlock()
}

func (d *demoDevice) isStreaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

type demoSource struct {
	dev     *demoDevice
	pending []byte
	closed  bool
}

// Write reacts to the stop burst and to a streaming-enable register write.
// Anything else is ignored, as the sensor would.
func (s *demoSource) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrNotActive
	}
	switch {
	case len(p) > 0 && bytes.Count(p, []byte{stopByte}) == len(p):
		s.dev.setStreaming(false)
		s.pending = nil
	case len(p) == 11 && p[1] == funcWriteMultiple &&
		binary.LittleEndian.Uint16(p[9:]) == Checksum(p[:9]) &&
		binary.BigEndian.Uint16(p[2:]) == StreamRegister &&
		binary.BigEndian.Uint16(p[7:]) == StreamEnableValue:
		resp := append([]byte(nil), p[:6]...)
		s.pending = binary.LittleEndian.AppendUint16(resp, Checksum(resp))
		s.dev.setStreaming(true)
	}
	return len(p), nil
}

func (s *demoSource) Read(b []byte) (int, error) {
	if s.closed {
		return 0, ErrNotActive
	}
	if len(s.pending) == 0 {
		return 0, ErrReadTimeout
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *demoSource) ReadUntil(marker []byte, timeout time.Duration) ([]byte, error) {
	if s.closed {
		return nil, ErrNotActive
	}
	for {
		if idx := bytes.Index(s.pending, marker); idx >= 0 {
			n := idx + len(marker)
			out := append([]byte(nil), s.pending[:n]...)
			s.pending = s.pending[n:]
			return out, nil
		}
		if !s.dev.isStreaming() {
			time.Sleep(timeout)
			out := s.pending
			s.pending = nil
			return out, ErrReadTimeout
		}
		if s.dev.interval > 0 {
			time.Sleep(s.dev.interval)
		}
		s.pending = append(s.pending, s.dev.nextFrame()...)
	}
}

func (s *demoSource) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}
