package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dmss.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.VendorID != 0x05c6 || cfg.EndpointOut != 0x01 || cfg.EndpointIn != 0x81 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AckTimeout != 10*time.Second || cfg.RetryDelay != 100*time.Millisecond || cfg.ConfigTimeout != time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.ReadBuffer != 4096 || cfg.MaxAttempts != 0 {
		t.Fatalf("unexpected buffer/attempts: %+v", cfg)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
product_id = 0x9091
endpoint_in = 0x82
ack_timeout = "2s"
max_attempts = 5
detach_kernel_driver = false
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VendorID != 0x05c6 {
		t.Fatalf("vendor should keep default, got %#04x", cfg.VendorID)
	}
	if cfg.ProductID != 0x9091 {
		t.Fatalf("product = %#04x", cfg.ProductID)
	}
	if cfg.EndpointIn != 0x82 || cfg.EndpointOut != 0x01 {
		t.Fatalf("endpoints = %#02x/%#02x", cfg.EndpointOut, cfg.EndpointIn)
	}
	if cfg.AckTimeout != 2*time.Second || cfg.RetryDelay != 100*time.Millisecond {
		t.Fatalf("timeouts = %v/%v", cfg.AckTimeout, cfg.RetryDelay)
	}
	if cfg.MaxAttempts != 5 || cfg.DetachKernelDriver || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad duration", body: `retry_delay = "soon"`, want: "parse retry_delay"},
		{name: "vendor out of range", body: `vendor_id = 0x10000`, want: "vendor_id"},
		{name: "endpoint out of range", body: `endpoint_out = 300`, want: "endpoint_out"},
		{name: "unknown key", body: `vendor = 1`, want: "unknown key"},
		{name: "syntax", body: `vendor_id = `, want: "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := ApplyEnv(Default(), envMap(map[string]string{
		"DMSS_VENDOR_ID":            "1234",
		"DMSS_PRODUCT_ID":           "0xABCD",
		"DMSS_INTERFACE":            "2",
		"DMSS_ENDPOINT_OUT":         "0x02",
		"DMSS_ENDPOINT_IN":          "0x83",
		"DMSS_ACK_TIMEOUT":          "500ms",
		"DMSS_RETRY_DELAY":          "0s",
		"DMSS_READ_BUFFER":          "512",
		"DMSS_MAX_ATTEMPTS":         "3",
		"DMSS_DETACH_KERNEL_DRIVER": "false",
		"DMSS_LOG_LEVEL":            "warn",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	want := Default()
	want.VendorID = 0x1234
	want.ProductID = 0xabcd
	want.Interface = 2
	want.EndpointOut = 0x02
	want.EndpointIn = 0x83
	want.AckTimeout = 500 * time.Millisecond
	want.RetryDelay = 0
	want.ReadBuffer = 512
	want.MaxAttempts = 3
	want.DetachKernelDriver = false
	want.LogLevel = "warn"
	if cfg != want {
		t.Fatalf("cfg = %+v\nwant %+v", cfg, want)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	for _, env := range []map[string]string{
		{"DMSS_VENDOR_ID": "qualcomm"},
		{"DMSS_ENDPOINT_IN": "0x100"},
		{"DMSS_ACK_TIMEOUT": "10"},
		{"DMSS_MAX_ATTEMPTS": "many"},
		{"DMSS_DETACH_KERNEL_DRIVER": "sometimes"},
	} {
		if _, err := ApplyEnv(Default(), envMap(env)); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero vendor", func(c *Config) { c.VendorID = 0 }},
		{"out endpoint with IN bit", func(c *Config) { c.EndpointOut = 0x81 }},
		{"in endpoint without IN bit", func(c *Config) { c.EndpointIn = 0x01 }},
		{"zero ack timeout", func(c *Config) { c.AckTimeout = 0 }},
		{"zero config timeout", func(c *Config) { c.ConfigTimeout = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Millisecond }},
		{"zero read buffer", func(c *Config) { c.ReadBuffer = 0 }},
		{"negative attempts", func(c *Config) { c.MaxAttempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseUint16(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"05c6", 0x05c6},
		{"0x05c6", 0x05c6},
		{"0X9091", 0x9091},
		{" ffff ", 0xffff},
	}
	for _, tt := range tests {
		got, err := ParseUint16(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseUint16(%q) = %#x, %v", tt.in, got, err)
		}
	}
	for _, bad := range []string{"", "0x", "10000", "usb"} {
		if _, err := ParseUint16(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestMatch(t *testing.T) {
	cfg := Default()
	cfg.ProductID = 0x9091
	m := cfg.Match()
	if m.VendorID != 0x05c6 || m.ProductID != 0x9091 {
		t.Fatalf("match = %+v", m)
	}
}
