// Package logging builds the zerolog logger used for status output.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Profile selects a set of logger defaults.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls the logger. Out defaults to os.Stderr so that stdout
// carries only decoded log lines.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Out       io.Writer
}

// DefaultConfig returns the logger defaults for p.
func DefaultConfig(p Profile) Config {
	switch p {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// ApplyEnv overrides cfg from DMSS_LOG_LEVEL, DMSS_LOG_TIMESTAMP,
// DMSS_LOG_NOCOLOR and DMSS_LOG_JSON.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	if v := strings.TrimSpace(getenv("DMSS_LOG_LEVEL")); v != "" {
		lvl, err := ParseLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.Level = lvl
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"DMSS_LOG_TIMESTAMP", &cfg.Timestamp},
		{"DMSS_LOG_NOCOLOR", &cfg.NoColor},
		{"DMSS_LOG_JSON", &cfg.JSON},
	} {
		v := strings.TrimSpace(getenv(b.key))
		if v == "" {
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("parse %s: %w", b.key, err)
		}
		*b.dst = on
	}
	return cfg, nil
}

// ParseLevel accepts zerolog level names plus a few common aliases.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return zerolog.WarnLevel, nil
	case "off", "none", "quiet":
		return zerolog.Disabled, nil
	case "err":
		return zerolog.ErrorLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	if lvl == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// New returns a logger for app built from cfg.
func New(app string, cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}

	ctx := zerolog.New(out).Level(cfg.Level).With().Str("app", app)
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}
