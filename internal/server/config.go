package server

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/ft300stream/internal/datalog"
	"github.com/shaunagostinho/ft300stream/internal/ft300"
)

// Config holds all streaming configuration.
type Config struct {
	mu sync.RWMutex

	Sensor  SensorConfig  `yaml:"sensor" json:"sensor"`
	Stream  StreamConfig  `yaml:"stream" json:"stream"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SensorConfig struct {
	Type          string `yaml:"type" json:"type"`          // "serial" or "demo"
	PortPath      string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	SlaveAddress  int    `yaml:"slave_address" json:"slaveAddress"`
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	SettleDelayMs int    `yaml:"settle_delay_ms" json:"settleDelayMs"`
	Calibrate     bool   `yaml:"calibrate" json:"calibrate"` // zero on startup

	Demo ft300.DemoConfig `yaml:"demo" json:"demo"`
}

type StreamConfig struct {
	MaxCRCErrors     int     `yaml:"max_crc_errors" json:"maxCrcErrors"` // consecutive
	ContinueOnError  bool    `yaml:"continue_on_error" json:"continueOnError"`
	Quiet            bool    `yaml:"quiet" json:"quiet"`
	ShowStats        bool    `yaml:"show_stats" json:"showStats"`
	StatsIntervalSec float64 `yaml:"stats_interval_sec" json:"statsIntervalSec"`
	Debug            bool    `yaml:"debug" json:"debug"`
}

type LoggingConfig struct {
	CSVPath    string `yaml:"csv_path" json:"csvPath"`
	JSONPath   string `yaml:"json_path" json:"jsonPath"`
	BufferSize int    `yaml:"buffer_size" json:"bufferSize"`

	// File receives the process log via a rotating writer when set.
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sensor: SensorConfig{
			Type:          "serial",
			PortPath:      "/dev/ttyUSB0",
			SlaveAddress:  ft300.DefaultSlaveAddress,
			BaudRate:      ft300.DefaultBaudRate,
			ReadTimeoutMs: int(ft300.DefaultReadTimeout / time.Millisecond),
			SettleDelayMs: int(ft300.DefaultSettleDelay / time.Millisecond),
			Calibrate:     true,
			Demo:          ft300.DemoConfig{RateHz: 100},
		},
		Stream: StreamConfig{
			MaxCRCErrors:     10,
			StatsIntervalSec: 10,
		},
		Logging: LoggingConfig{
			BufferSize: 1000,
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
	}
}

// SerialConfig converts the sensor section for ft300.NewSerialOpener.
func (c *Config) SerialConfig() ft300.SerialConfig {
	return ft300.SerialConfig{
		PortPath:    c.Sensor.PortPath,
		BaudRate:    c.Sensor.BaudRate,
		ReadTimeout: time.Duration(c.Sensor.ReadTimeoutMs) * time.Millisecond,
	}
}

// SessionConfig converts the sensor section for ft300.NewSession.
func (c *Config) SessionConfig() ft300.Config {
	return ft300.Config{
		SlaveAddress: byte(c.Sensor.SlaveAddress),
		ReadTimeout:  time.Duration(c.Sensor.ReadTimeoutMs) * time.Millisecond,
		SettleDelay:  time.Duration(c.Sensor.SettleDelayMs) * time.Millisecond,
	}
}

// DatalogConfig converts the logging section for datalog.New.
func (c *Config) DatalogConfig() datalog.Config {
	return datalog.Config{
		CSVPath:    c.Logging.CSVPath,
		JSONPath:   c.Logging.JSONPath,
		BufferSize: c.Logging.BufferSize,
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: FT300_TYPE, FT300_PORT, FT300_SLAVE_ADDRESS, FT300_BAUD,
// FT300_CALIBRATE, FT300_MAX_CRC_ERRORS, LOG_CSV, LOG_JSON, LOG_FILE,
// LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FT300_TYPE"); v != "" {
		c.Sensor.Type = v
	}
	if v := os.Getenv("FT300_PORT"); v != "" {
		c.Sensor.PortPath = v
	}
	if v := os.Getenv("FT300_SLAVE_ADDRESS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sensor.SlaveAddress = n
		}
	}
	if v := os.Getenv("FT300_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sensor.BaudRate = n
		}
	}
	if v := os.Getenv("FT300_CALIBRATE"); v != "" {
		c.Sensor.Calibrate = parseBool(v)
	}
	if v := os.Getenv("FT300_MAX_CRC_ERRORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.MaxCRCErrors = n
		}
	}
	if v := os.Getenv("LOG_CSV"); v != "" {
		c.Logging.CSVPath = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		c.Logging.JSONPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
		c.Server.Enabled = true
	}
}

func parseBool(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/ft300stream/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}
