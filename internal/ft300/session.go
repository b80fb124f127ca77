package ft300

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// State is a Session's lifecycle stage.
type State int

const (
	Idle State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds session settings.
type Config struct {
	SlaveAddress byte          `yaml:"slave_address" json:"slaveAddress"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"readTimeout"`
	SettleDelay  time.Duration `yaml:"settle_delay" json:"settleDelay"`
}

// Reading is one decoded sample with the running rate estimate.
type Reading struct {
	Sample    Sample    `json:"forceTorque"`
	Frequency int       `json:"frequency"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
}

// Session streams samples from one sensor. It is not safe for concurrent
// use; a single goroutine calls Start, ReadSample and Stop in turn.
//
// A Session is single-use: once Stopped, build a new one to stream again.
type Session struct {
	id     uuid.UUID
	opener Opener
	ctrl   *Controller
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	state State
	src   ByteSource
	asm   *Assembler
	zero  ZeroReference
	rate  *RateEstimator
	seq   uint64
}

// NewSession creates an idle session. Both the control channel and the
// stream are opened through opener. A nil logger uses log.Default().
func NewSession(opener Opener, cfg Config, logger *log.Logger) *Session {
	if cfg.SlaveAddress == 0 {
		cfg.SlaveAddress = DefaultSlaveAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		id:     uuid.New(),
		opener: opener,
		ctrl:   NewController(opener, cfg.SlaveAddress, cfg.SettleDelay, logger),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		rate:   NewRateEstimator(time.Now),
	}
}

func (s *Session) ID() uuid.UUID       { return s.id }
func (s *Session) State() State        { return s.state }
func (s *Session) Zero() ZeroReference { return s.zero }

// Start resets the sensor stream, opens the byte source and, if calibrate is
// set, captures a zero reference. Any failure is a *FatalError and leaves the
// session Stopped.
func (s *Session) Start(calibrate bool) error {
	if s.state != Idle {
		return fatal("start", fmt.Errorf("session is %s", s.state))
	}
	s.logger.Printf("[ft300] session %s starting", s.id)

	if err := s.start(calibrate); err != nil {
		s.release()
		return err
	}
	s.rate.Start()
	s.state = Started
	s.logger.Printf("[ft300] session %s started", s.id)
	return nil
}

func (s *Session) start(calibrate bool) error {
	s.state = Stopped
	if err := s.ctrl.StopStream(); err != nil {
		return fatal("stop stream", err)
	}
	if err := s.ctrl.EnableStream(); err != nil {
		return fatal("enable stream", err)
	}

	src, err := s.opener.Open()
	if err != nil {
		return fatal("open", err)
	}
	s.src = src
	s.asm = NewAssembler(src, s.cfg.ReadTimeout)

	if calibrate {
		s.logger.Printf("[ft300] calibrating zero reference")
		zero, err := Calibrate(s.asm)
		if err != nil {
			return fatal("calibrate", err)
		}
		s.zero = zero
		s.logger.Printf("[ft300] zero reference: %v", s.zero)
	} else {
		s.zero = ZeroReference{}
	}
	return nil
}

// ReadSample blocks for the next frame and decodes it.
//
// ErrCRC, ErrReadTimeout and ErrShortFrame are recoverable (see
// IsRecoverable): nothing changes and the caller may call again. Any other
// error is a *FatalError, after which the session is Stopped.
func (s *Session) ReadSample() (Reading, error) {
	if s.state != Started {
		return Reading{}, ErrNotActive
	}

	frame, err := s.asm.Next()
	if err != nil {
		if IsRecoverable(err) {
			return Reading{}, err
		}
		s.Stop()
		return Reading{}, fatal("read", err)
	}
	if !Validate(frame) {
		return Reading{}, fmt.Errorf("frame % X: %w", frame, ErrCRC)
	}

	sample, err := Decode(frame, s.zero)
	if err != nil {
		s.Stop()
		return Reading{}, fatal("decode", err)
	}
	s.seq++
	return Reading{
		Sample:    sample,
		Frequency: s.rate.Record(),
		Seq:       s.seq,
		Time:      s.now(),
	}, nil
}

// ResetStatistics restarts the rate estimate.
func (s *Session) ResetStatistics() {
	s.rate.Start()
}

// Stop releases the byte source. It is safe to call more than once.
func (s *Session) Stop() error {
	if s.state == Stopped && s.src == nil {
		return nil
	}
	s.state = Stopped
	err := s.release()
	s.logger.Printf("[ft300] session %s stopped", s.id)
	return err
}

func (s *Session) release() error {
	if s.src == nil {
		return nil
	}
	err := s.src.Close()
	s.src = nil
	s.asm = nil
	if err != nil {
		return fmt.Errorf("ft300: close: %w", err)
	}
	return nil
}
