package datalog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/ft300stream/internal/ft300"
)

// Logger records readings to optional CSV and JSON files and keeps the most
// recent ones in memory for statistics.
type Logger struct {
	mu sync.Mutex

	ring  []Point
	next  int
	count int

	csvPath  string
	file     *os.File
	writer   *csv.Writer
	jsonPath string
	jsonData []Point
}

// Config holds logger configuration.
type Config struct {
	CSVPath    string `yaml:"csv_path" json:"csvPath"`
	JSONPath   string `yaml:"json_path" json:"jsonPath"`
	BufferSize int    `yaml:"buffer_size" json:"bufferSize"`
}

// Point is one logged reading.
type Point struct {
	Timestamp   float64      `json:"timestamp"` // Unix seconds
	ForceTorque ft300.Sample `json:"force_torque"`
	Frequency   int          `json:"frequency"`
}

const defaultBufferSize = 1000

var csvHeader = []string{"timestamp", "fx", "fy", "fz", "tx", "ty", "tz", "frequency"}

// New creates a Logger. The CSV file, if any, is created immediately with
// its header row.
func New(cfg Config) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	l := &Logger{
		ring:     make([]Point, cfg.BufferSize),
		csvPath:  cfg.CSVPath,
		jsonPath: cfg.JSONPath,
	}
	if cfg.CSVPath != "" {
		if err := l.openCSV(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Logger) openCSV() error {
	if dir := filepath.Dir(l.csvPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(l.csvPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", l.csvPath, err)
	}
	l.file = f
	l.writer = csv.NewWriter(f)
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()
	log.Printf("[datalog] writing CSV to %s", l.csvPath)
	return l.writer.Error()
}

// Record logs one reading. CSV rows are flushed as they are written so a
// crash loses at most the current row.
func (l *Logger) Record(r ft300.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	p := Point{
		Timestamp:   float64(ts.UnixNano()) / 1e9,
		ForceTorque: r.Sample,
		Frequency:   r.Frequency,
	}

	l.ring[l.next] = p
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}

	if l.writer != nil {
		if err := l.writer.Write(buildRow(p)); err != nil {
			log.Printf("[datalog] write failed: %v", err)
		} else {
			l.writer.Flush()
		}
	}
	if l.jsonPath != "" {
		l.jsonData = append(l.jsonData, p)
	}
}

// Recent returns the buffered points, oldest first.
func (l *Logger) Recent() []Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recent()
}

func (l *Logger) recent() []Point {
	out := make([]Point, 0, l.count)
	start := (l.next - l.count + len(l.ring)) % len(l.ring)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Close flushes the CSV file and writes the JSON file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.writer != nil {
		l.writer.Flush()
		firstErr = l.writer.Error()
		l.writer = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	if l.jsonPath != "" && len(l.jsonData) > 0 {
		if err := l.saveJSON(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) saveJSON() error {
	data, err := json.MarshalIndent(l.jsonData, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", l.jsonPath, err)
	}
	log.Printf("[datalog] wrote %d points to %s", len(l.jsonData), l.jsonPath)
	return nil
}

func buildRow(p Point) []string {
	row := make([]string, len(csvHeader))
	row[0] = strconv.FormatFloat(p.Timestamp, 'f', 6, 64)
	for i, v := range p.ForceTorque {
		row[1+i] = formatValue(v)
	}
	row[7] = strconv.Itoa(p.Frequency)
	return row
}

// formatValue writes the shortest decimal that round-trips, always with a
// fractional part: 1 is written as 1.0.
func formatValue(v float64) string {
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(out, ".IN") {
		out += ".0"
	}
	return out
}
