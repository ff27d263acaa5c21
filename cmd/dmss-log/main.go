package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"dmss-core/internal/config"
	"dmss-core/internal/logging"
	"dmss-core/internal/session"
	"dmss-core/pkg/usb"
)

const (
	exitOK       = 0
	exitNoDevice = 1
	exitSession  = 2
	exitSetup    = 3
)

type device interface {
	claimer
	session.Transport
	Close() error
}

var (
	listDevices = usb.List
	openDevice  = func(m usb.Match) (device, usb.Info, error) {
		d, info, err := usb.OpenMatch(m)
		if err != nil {
			return nil, info, err
		}
		return d, info, nil
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

type cliFlags struct {
	configPath  string
	list        bool
	vendor      string
	product     string
	maxAttempts int
	logLevel    string
	set         map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("dmss-log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to a TOML config file")
	fs.BoolVar(&f.list, "list", false, "list USB devices and exit")
	fs.StringVar(&f.vendor, "vendor", "", "USB vendor ID in hex (default 05c6)")
	fs.StringVar(&f.product, "product", "", "USB product ID in hex (default any)")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "give up after this many connect requests (0 retries forever)")
	fs.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// loadConfig layers defaults, the config file, DMSS_* variables and flags.
func loadConfig(f cliFlags, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	path := f.configPath
	if path == "" {
		path = getenv("DMSS_CONFIG")
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	cfg, err := config.ApplyEnv(cfg, getenv)
	if err != nil {
		return cfg, err
	}

	if f.set["vendor"] {
		if cfg.VendorID, err = config.ParseUint16(f.vendor); err != nil {
			return cfg, fmt.Errorf("-vendor: %w", err)
		}
	}
	if f.set["product"] {
		if cfg.ProductID, err = config.ParseUint16(f.product); err != nil {
			return cfg, fmt.Errorf("-product: %w", err)
		}
	}
	if f.set["max-attempts"] {
		cfg.MaxAttempts = f.maxAttempts
	}
	if f.set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, stderr io.Writer, getenv func(string) string) (zerolog.Logger, error) {
	lc, err := logging.ApplyEnv(logging.DefaultConfig(logging.ProfileRuntime), getenv)
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.LogLevel != "" {
		if lc.Level, err = logging.ParseLevel(cfg.LogLevel); err != nil {
			return zerolog.Nop(), err
		}
	}
	lc.Out = stderr
	return logging.New("dmss-log", lc), nil
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitSetup
	}

	cfg, err := loadConfig(f, getenv)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitSetup
	}
	log, err := newLogger(cfg, stderr, getenv)
	if err != nil {
		fmt.Fprintln(stderr, "logging:", err)
		return exitSetup
	}

	if f.list {
		return listAll(stdout, log)
	}

	dev, info, err := openDevice(cfg.Match())
	if errors.Is(err, usb.ErrNotFound) {
		log.Error().Str("match", cfg.Match().String()).Msg("Device not found")
		return exitNoDevice
	}
	if err != nil {
		ev := log.Error().Err(err)
		if info.Bus != 0 {
			ev = ev.Str("path", info.Path())
		}
		ev.Msg("open device")
		return exitNoDevice
	}
	defer dev.Close()
	log.Info().Str("device", info.String()).Str("path", info.Path()).Msg("found device")

	err = claimInterface(dev, cfg.Interface, cfg.DetachKernelDriver, func(derr error) {
		if derr != nil {
			log.Warn().Err(derr).Uint32("interface", cfg.Interface).Msg("detach kernel driver")
			return
		}
		log.Info().Uint32("interface", cfg.Interface).Msg("detached kernel driver")
	})
	if err != nil {
		log.Error().Err(err).Uint32("interface", cfg.Interface).Msg("claim interface")
		return exitSession
	}

	s, err := session.New(dev, stdout, session.Options{
		EndpointOut:   cfg.EndpointOut,
		EndpointIn:    cfg.EndpointIn,
		AckTimeout:    cfg.AckTimeout,
		RetryDelay:    cfg.RetryDelay,
		ConfigTimeout: cfg.ConfigTimeout,
		ReadBuffer:    cfg.ReadBuffer,
		MaxAttempts:   cfg.MaxAttempts,
		Logger:        log,
	})
	if err != nil {
		log.Error().Err(err).Msg("new session")
		return exitSetup
	}
	sessLog := log.With().Str("session", s.ID().String()).Logger()

	sessLog.Info().Msg("connecting DMSS")
	if err := s.Handshake(); err != nil {
		sessLog.Error().Err(err).Int("attempts", s.Stats().ConnectAttempts).Msg("handshake failed")
		return exitSession
	}
	sessLog.Info().Int("attempts", s.Stats().ConnectAttempts).Msg("DMSS is connected")

	err = s.Receive()
	st := s.Stats()
	sessLog.Error().Err(err).
		Uint64("bytes", st.BytesReceived).
		Uint64("records", st.Records).
		Uint64("unknown", st.Unknown).
		Msg("log stream ended")
	return exitSession
}

func listAll(stdout io.Writer, log zerolog.Logger) int {
	infos, err := listDevices()
	if err != nil {
		log.Error().Err(err).Msg("list devices")
		return exitSetup
	}
	for _, info := range infos {
		fmt.Fprintf(stdout, "%s %s\n", info.Path(), info)
	}
	return exitOK
}
