package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shaunagostinho/ft300stream/internal/datalog"
	"github.com/shaunagostinho/ft300stream/internal/ft300"
	"github.com/shaunagostinho/ft300stream/internal/server"
	"github.com/shaunagostinho/ft300stream/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/ft300stream/config.yaml", "Path to config file")
	port := flag.String("port", "", "Serial port where the FT300 is connected (e.g. /dev/ttyUSB0)")
	slaveAddress := flag.Int("slave-address", 0, "Modbus slave address of the FT300")
	csvOutput := flag.String("csv-output", "", "Save data to CSV file")
	jsonOutput := flag.String("json-output", "", "Save data to JSON file")
	quiet := flag.Bool("quiet", false, "Suppress real-time data output")
	flag.BoolVar(quiet, "q", false, "Shorthand for -quiet")
	showStats := flag.Bool("show-stats", false, "Show periodic statistics")
	statsInterval := flag.Float64("stats-interval", 0, "Statistics display interval in seconds")
	bufferSize := flag.Int("buffer-size", 0, "Number of recent samples kept for statistics")
	maxCRCErrors := flag.Int("max-crc-errors", 0, "Maximum consecutive read errors before stopping")
	continueOnError := flag.Bool("continue-on-error", false, "Restart the session after fatal errors")
	noCalibration := flag.Bool("no-calibration", false, "Skip zero reference calibration on startup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	demo := flag.Bool("demo", false, "Run with a simulated sensor")
	listenAddr := flag.String("listen", "", "Serve the live view on this address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] ft300stream starting")

	cfg := server.LoadConfig(*configPath)

	// Flags given on the command line win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Sensor.PortPath = *port
		case "slave-address":
			cfg.Sensor.SlaveAddress = *slaveAddress
		case "csv-output":
			cfg.Logging.CSVPath = *csvOutput
		case "json-output":
			cfg.Logging.JSONPath = *jsonOutput
		case "quiet", "q":
			cfg.Stream.Quiet = *quiet
		case "show-stats":
			cfg.Stream.ShowStats = *showStats
		case "stats-interval":
			cfg.Stream.StatsIntervalSec = *statsInterval
		case "buffer-size":
			cfg.Logging.BufferSize = *bufferSize
		case "max-crc-errors":
			cfg.Stream.MaxCRCErrors = *maxCRCErrors
		case "continue-on-error":
			cfg.Stream.ContinueOnError = *continueOnError
		case "no-calibration":
			cfg.Sensor.Calibrate = !*noCalibration
		case "debug":
			cfg.Stream.Debug = *debug
		case "demo":
			if *demo {
				cfg.Sensor.Type = "demo"
			}
		case "listen":
			cfg.Server.ListenAddr = *listenAddr
			cfg.Server.Enabled = true
		}
	})

	logger := newLogger(cfg)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var opener ft300.Opener
	switch cfg.Sensor.Type {
	case "demo":
		opener = ft300.NewDemoOpener(cfg.Sensor.Demo)
	default:
		opener = ft300.NewSerialOpener(cfg.SerialConfig())
	}
	sessionCfg := cfg.SessionConfig()
	newSession := func() *ft300.Session {
		return ft300.NewSession(opener, sessionCfg, logger)
	}

	data, err := datalog.New(cfg.DatalogConfig())
	if err != nil {
		logger.Printf("[main] data logger: %v", err)
		return 1
	}

	srv := server.New(cfg, newSession, data, web.FS, os.Stdout, logger)
	logger.Printf("[main] streaming from %s sensor on %s", cfg.Sensor.Type, cfg.Sensor.PortPath)
	runErr := srv.Run(ctx)

	logger.Println("[main] cleaning up")
	if cfg.Stream.ShowStats {
		srv.LogStats("Final statistics")
	}
	if err := data.Close(); err != nil {
		logger.Printf("[main] data logger close: %v", err)
	}

	var fe *ft300.FatalError
	switch {
	case runErr == nil:
		logger.Println("[main] data streaming stopped")
		return 0
	case errors.As(runErr, &fe):
		logger.Printf("[main] FT300 sensor error: %v", runErr)
	case errors.Is(runErr, server.ErrTooManyErrors):
		logger.Printf("[main] stopped: %v", runErr)
	default:
		logger.Printf("[main] unexpected error: %v", runErr)
	}
	return 1
}

// newLogger logs to stderr and, when configured, to a rotating file. The
// standard logger is pointed at the same writer for packages that use it.
func newLogger(cfg *server.Config) *log.Logger {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	if cfg.Stream.Debug {
		flags |= log.Lmicroseconds
	}

	var w io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		fmt.Fprintf(os.Stderr, "logging to %s\n", cfg.Logging.File)
	}
	log.SetOutput(w)
	log.SetFlags(flags)
	return log.New(w, "", flags)
}
