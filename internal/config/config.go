// Package config loads dmss-log settings from a TOML file and DMSS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"dmss-core/pkg/usb"
)

// Config holds every setting of the dmss-log tool.
type Config struct {
	VendorID  uint16
	ProductID uint16 // 0 matches any product

	Interface   uint32
	EndpointOut uint8
	EndpointIn  uint8

	AckTimeout    time.Duration
	RetryDelay    time.Duration
	ConfigTimeout time.Duration
	ReadBuffer    int
	MaxAttempts   int // 0 retries forever

	DetachKernelDriver bool
	LogLevel           string
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		VendorID:           usb.DefaultVendorID,
		Interface:          usb.DefaultInterface,
		EndpointOut:        usb.DefaultEndpointOut,
		EndpointIn:         usb.DefaultEndpointIn,
		AckTimeout:         10 * time.Second,
		RetryDelay:         100 * time.Millisecond,
		ConfigTimeout:      time.Second,
		ReadBuffer:         4096,
		DetachKernelDriver: true,
		LogLevel:           "info",
	}
}

type fileConfig struct {
	VendorID           int64  `toml:"vendor_id"`
	ProductID          int64  `toml:"product_id"`
	Interface          int64  `toml:"interface"`
	EndpointOut        int64  `toml:"endpoint_out"`
	EndpointIn         int64  `toml:"endpoint_in"`
	AckTimeout         string `toml:"ack_timeout"`
	RetryDelay         string `toml:"retry_delay"`
	ConfigTimeout      string `toml:"config_timeout"`
	ReadBuffer         int    `toml:"read_buffer"`
	MaxAttempts        int    `toml:"max_attempts"`
	DetachKernelDriver bool   `toml:"detach_kernel_driver"`
	LogLevel           string `toml:"log_level"`
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("vendor_id") {
		if cfg.VendorID, err = toUint16("vendor_id", raw.VendorID); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("product_id") {
		if cfg.ProductID, err = toUint16("product_id", raw.ProductID); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("interface") {
		if raw.Interface < 0 || raw.Interface > 255 {
			return Config{}, fmt.Errorf("interface %d out of range", raw.Interface)
		}
		cfg.Interface = uint32(raw.Interface)
	}
	if meta.IsDefined("endpoint_out") {
		if cfg.EndpointOut, err = toUint8("endpoint_out", raw.EndpointOut); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("endpoint_in") {
		if cfg.EndpointIn, err = toUint8("endpoint_in", raw.EndpointIn); err != nil {
			return Config{}, err
		}
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &cfg.AckTimeout},
		{"retry_delay", raw.RetryDelay, &cfg.RetryDelay},
		{"config_timeout", raw.ConfigTimeout, &cfg.ConfigTimeout},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("read_buffer") {
		cfg.ReadBuffer = raw.ReadBuffer
	}
	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("detach_kernel_driver") {
		cfg.DetachKernelDriver = raw.DetachKernelDriver
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from DMSS_* variables. IDs and endpoints accept
// hex with a 0x prefix.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get("DMSS_VENDOR_ID"); v != "" {
		id, err := ParseUint16(v)
		if err != nil {
			return cfg, fmt.Errorf("DMSS_VENDOR_ID: %w", err)
		}
		cfg.VendorID = id
	}
	if v := get("DMSS_PRODUCT_ID"); v != "" {
		id, err := ParseUint16(v)
		if err != nil {
			return cfg, fmt.Errorf("DMSS_PRODUCT_ID: %w", err)
		}
		cfg.ProductID = id
	}
	if v := get("DMSS_INTERFACE"); v != "" {
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return cfg, fmt.Errorf("DMSS_INTERFACE: %w", err)
		}
		cfg.Interface = uint32(n)
	}
	for _, e := range []struct {
		key string
		dst *uint8
	}{
		{"DMSS_ENDPOINT_OUT", &cfg.EndpointOut},
		{"DMSS_ENDPOINT_IN", &cfg.EndpointIn},
	} {
		v := get(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = uint8(n)
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"DMSS_ACK_TIMEOUT", &cfg.AckTimeout},
		{"DMSS_RETRY_DELAY", &cfg.RetryDelay},
		{"DMSS_CONFIG_TIMEOUT", &cfg.ConfigTimeout},
	} {
		v := get(d.key)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = dur
	}
	for _, i := range []struct {
		key string
		dst *int
	}{
		{"DMSS_READ_BUFFER", &cfg.ReadBuffer},
		{"DMSS_MAX_ATTEMPTS", &cfg.MaxAttempts},
	} {
		v := get(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}
	if v := get("DMSS_DETACH_KERNEL_DRIVER"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("DMSS_DETACH_KERNEL_DRIVER: %w", err)
		}
		cfg.DetachKernelDriver = on
	}
	if v := get("DMSS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.VendorID == 0 {
		errs = append(errs, errors.New("vendor_id must be set"))
	}
	if c.EndpointOut&usb.EndpointDirIn != 0 {
		errs = append(errs, fmt.Errorf("endpoint_out %#02x has the IN direction bit", c.EndpointOut))
	}
	if c.EndpointIn&usb.EndpointDirIn == 0 {
		errs = append(errs, fmt.Errorf("endpoint_in %#02x lacks the IN direction bit", c.EndpointIn))
	}
	if c.AckTimeout <= 0 {
		errs = append(errs, errors.New("ack_timeout must be positive"))
	}
	if c.ConfigTimeout <= 0 {
		errs = append(errs, errors.New("config_timeout must be positive"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if c.ReadBuffer <= 0 {
		errs = append(errs, errors.New("read_buffer must be positive"))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

// Match returns the device selector described by c.
func (c Config) Match() usb.Match {
	return usb.Match{VendorID: c.VendorID, ProductID: c.ProductID}
}

// ParseUint16 parses a USB ID. Bare digits are read as hex, the way lsusb
// prints IDs; a 0x prefix is also accepted.
func ParseUint16(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q", s)
	}
	return uint16(v), nil
}

func toUint16(key string, v int64) (uint16, error) {
	if v < 0 || v > 0xffff {
		return 0, fmt.Errorf("%s %d out of range", key, v)
	}
	return uint16(v), nil
}

func toUint8(key string, v int64) (uint8, error) {
	if v < 0 || v > 0xff {
		return 0, fmt.Errorf("%s %d out of range", key, v)
	}
	return uint8(v), nil
}
