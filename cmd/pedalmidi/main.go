// Command pedalmidi turns an expression pedal and a potentiometer on a
// serial sensor board into MIDI Control Change messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chase3718/pedalmidi/internal/settings"
)

const version = "0.3.0"

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(level slog.Level) {
	debug := level <= slog.LevelDebug
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func printVersion() {
	fmt.Printf("pedalmidi v%s\n", version)
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  pedalmidi [OPTIONS]")
	fmt.Println("  pedalmidi monitor [-url ws://host:port/ws]")
	fmt.Println("  pedalmidi ports")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("SUBCOMMANDS:")
	fmt.Println("  monitor   show the live controller values of a running daemon")
	fmt.Println("  ports     list MIDI ports and serial devices")
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "monitor":
			os.Exit(runMonitor(os.Args[2:]))
		case "ports":
			os.Exit(runPorts(os.Args[2:]))
		}
	}

	configPath := flag.String("config", "", "YAML settings file (defaults are used when empty)")
	serialDev := flag.String("serial", "", "serial port device of the sensor board")
	baud := flag.Int("baud", 0, "serial baud rate")
	listen := flag.String("listen", "", "HTTP listen address; empty string disables the API")
	stateFile := flag.String("state", "", "file holding the persisted device configuration")
	logLevel := flag.String("log-level", "", "log level: error, warn, info, debug")
	showVersion := flag.Bool("version", false, "print version and exit")
	showHelp := flag.Bool("help", false, "print this help message")
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	s := settings.Default()
	if *configPath != "" {
		loaded, err := settings.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		s = loaded
	}

	// Only flags given on the command line override the file.
	var ov settings.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "serial":
			ov.SerialDevice = serialDev
		case "baud":
			ov.SerialBaud = baud
		case "listen":
			ov.HTTPListen = listen
		case "state":
			ov.StateFile = stateFile
		case "log-level":
			ov.LogLevel = logLevel
		}
	})
	ov.Apply(&s)

	if err := s.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	level, _ := settings.ParseLogLevel(s.Logging.Level)
	initLogger(level)

	logger.Info("pedalmidi starting",
		"version", version,
		"serial", s.Serial.Device,
		"baud", s.Serial.Baud,
		"listen", s.HTTP.Listen,
		"state", s.State.File,
		"measure_us", s.Scheduler.MeasureUS,
		"event_us", s.Scheduler.EventUS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx, s); err != nil {
		logger.Error("pedalmidi stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("pedalmidi stopped")
}
