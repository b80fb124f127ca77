package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/ft300stream/internal/datalog"
	"github.com/shaunagostinho/ft300stream/internal/ft300"
)

// ErrTooManyErrors ends the stream after too many consecutive recoverable
// read errors.
var ErrTooManyErrors = errors.New("too many consecutive read errors")

// SessionFactory builds a fresh sensor session. Sessions are single-use, so
// a restart after a fatal error needs a new one.
type SessionFactory func() *ft300.Session

// Server drives the sensor read loop, records readings, and broadcasts them
// to WebSocket clients when the HTTP server is enabled.
type Server struct {
	cfg        *Config
	newSession SessionFactory
	data       *datalog.Logger
	webFS      fs.FS
	logger     *log.Logger
	out        io.Writer // live sample lines

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader

	resetRate chan struct{}
	restartAt time.Duration // first backoff delay after a failed start
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Session string         `json:"session,omitempty"`
	Reading *ft300.Reading `json:"reading,omitempty"`
	Stats   *datalog.Stats `json:"stats,omitempty"`
	Stamp   int64          `json:"stamp"` // Unix ms
}

// New creates a new Server. out receives the live sample lines; webFS may be
// nil when the HTTP server is disabled.
func New(cfg *Config, newSession SessionFactory, data *datalog.Logger, webFS fs.FS, out io.Writer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:        cfg,
		newSession: newSession,
		data:       data,
		webFS:      webFS,
		logger:     logger,
		out:        out,
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		resetRate: make(chan struct{}, 1),
		restartAt: time.Second,
	}
}

// Run starts the HTTP server if enabled and streams until ctx is cancelled
// or the stream fails. It returns nil on cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:    s.cfg.Server.ListenAddr,
			Handler: s.Handler(),
		}
		go func() {
			s.logger.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("[server] exited: %v", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	return s.stream(ctx)
}

// Handler returns the HTTP routes: the embedded page, /ws, and the JSON API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/rate/reset", s.handleResetRate)
	return mux
}

// stream runs sessions back to back. Without ContinueOnError the first
// fatal error ends it; with it, a fresh session is started after a pause.
func (s *Server) stream(ctx context.Context) error {
	for {
		sess, err := s.startSession(ctx)
		if err != nil {
			return err
		}
		if sess == nil {
			return nil // cancelled while starting
		}

		err = s.readLoop(ctx, sess)
		sess.Stop()
		if err == nil || errors.Is(err, ErrTooManyErrors) || !s.cfg.Stream.ContinueOnError {
			return err
		}

		s.logger.Printf("[stream] %v, restarting session", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// startSession starts a new session. With ContinueOnError a failed start is
// retried with exponential backoff, starting at restartAt and doubling up to
// 60s. A failed session cannot be restarted, so each attempt builds a new one.
func (s *Server) startSession(ctx context.Context) (*ft300.Session, error) {
	delay := s.restartAt
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		sess := s.newSession()
		err := sess.Start(s.cfg.Sensor.Calibrate)
		if err == nil {
			if attempt > 0 {
				s.logger.Printf("[stream] session started (attempt %d)", attempt+1)
			}
			return sess, nil
		}
		if !s.cfg.Stream.ContinueOnError {
			return nil, err
		}
		attempt++
		s.logger.Printf("[stream] start attempt %d failed: %v (retry in %v)", attempt, err, delay)

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// readLoop is the sole reader of sess. Recoverable errors are counted and
// retried; the count resets on every good sample.
func (s *Server) readLoop(ctx context.Context, sess *ft300.Session) error {
	streamCfg := s.cfg.Stream
	interval := time.Duration(streamCfg.StatsIntervalSec * float64(time.Second))
	lastStats := time.Now()
	consecutive := 0
	id := sess.ID().String()

	s.logger.Printf("[stream] streaming, press Ctrl+C to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.resetRate:
			sess.ResetStatistics()
			s.logger.Printf("[stream] rate estimate reset")
		default:
		}

		r, err := sess.ReadSample()
		if err != nil {
			if !ft300.IsRecoverable(err) {
				return err
			}
			consecutive++
			if consecutive > streamCfg.MaxCRCErrors {
				s.logger.Printf("[stream] too many read errors (%d), stopping", consecutive)
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyErrors, consecutive, err)
			}
			if streamCfg.Debug {
				s.logger.Printf("[stream] read error #%d, continuing: %v", consecutive, err)
			} else {
				s.logger.Printf("[stream] read error #%d, continuing: %s", consecutive, reason(err))
			}
			continue
		}
		consecutive = 0

		s.data.Record(r)
		if !streamCfg.Quiet && s.out != nil {
			fmt.Fprintln(s.out, FormatReading(r))
		}

		frame := Frame{Session: id, Reading: &r, Stamp: r.Time.UnixMilli()}
		if streamCfg.ShowStats && time.Since(lastStats) >= interval {
			st := s.data.Stats()
			s.logStats("Statistics", st)
			frame.Stats = &st
			lastStats = time.Now()
		}
		s.broadcast(frame)
	}
}

// reason shortens a recoverable error for routine logging.
func reason(err error) string {
	switch {
	case errors.Is(err, ft300.ErrCRC):
		return "crc mismatch"
	case errors.Is(err, ft300.ErrShortFrame):
		return "short frame"
	case errors.Is(err, ft300.ErrReadTimeout):
		return "read timeout"
	}
	return err.Error()
}

// FormatReading renders one reading as a fixed-width console line.
func FormatReading(r ft300.Reading) string {
	f, t := r.Sample.Force(), r.Sample.Torque()
	return fmt.Sprintf("F: %3dHz | Force: [%7.2f, %7.2f, %7.2f] N | Torque: [%6.3f, %6.3f, %6.3f] Nm",
		r.Frequency, f[0], f[1], f[2], t[0], t[1], t[2])
}

// LogStats writes a statistics summary, one line per axis.
func (s *Server) LogStats(label string) {
	s.logStats(label, s.data.Stats())
}

func (s *Server) logStats(label string, st datalog.Stats) {
	if st.SampleCount == 0 {
		return
	}
	s.logger.Printf("[stats] %s (last %d samples):", label, st.SampleCount)
	for _, axis := range datalog.AxisNames {
		a := st.Axes[axis]
		s.logger.Printf("[stats]   %s: mean=%v, std=%v, range=[%v, %v]",
			strings.ToUpper(axis), a.Mean, a.Std, a.Min, a.Max)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("[ws] client connected (%d total)", n)

	// Send current statistics so the page has something before the next sample
	st := s.data.Stats()
	if data, err := json.Marshal(Frame{Stats: &st, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.logger.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.data.Stats())
}

// handleResetRate asks the read loop to restart its rate estimate. The
// session itself is only touched from the read loop.
func (s *Server) handleResetRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case s.resetRate <- struct{}{}:
	default:
		// Already pending
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) broadcast(frame Frame) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
