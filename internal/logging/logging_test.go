package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultConfig(t *testing.T) {
	rt := DefaultConfig(ProfileRuntime)
	if rt.Level != zerolog.InfoLevel || !rt.Timestamp {
		t.Fatalf("runtime config = %+v", rt)
	}
	tc := DefaultConfig(ProfileTest)
	if tc.Level != zerolog.DebugLevel || tc.Timestamp {
		t.Fatalf("test config = %+v", tc)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"err", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"off", zerolog.Disabled},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "loud", "verbose"} {
		if _, err := ParseLevel(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := ApplyEnv(DefaultConfig(ProfileRuntime), envMap(map[string]string{
		"DMSS_LOG_LEVEL":     "debug",
		"DMSS_LOG_TIMESTAMP": "false",
		"DMSS_LOG_NOCOLOR":   "1",
		"DMSS_LOG_JSON":      "true",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Level != zerolog.DebugLevel || cfg.Timestamp || !cfg.NoColor || !cfg.JSON {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := ApplyEnv(cfg, envMap(map[string]string{"DMSS_LOG_JSON": "maybe"})); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if _, err := ApplyEnv(cfg, envMap(map[string]string{"DMSS_LOG_LEVEL": "loud"})); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig(ProfileTest)
	cfg.JSON = true
	cfg.Out = &buf

	log := New("dmss-log", cfg)
	log.Info().Str("device", "1-1.4").Msg("found device")
	log.Trace().Msg("dropped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev["app"] != "dmss-log" || ev["message"] != "found device" || ev["device"] != "1-1.4" {
		t.Fatalf("event = %v", ev)
	}
	if _, ok := ev["time"]; ok {
		t.Fatalf("test profile should not stamp time: %v", ev)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig(ProfileTest)
	cfg.Out = &buf

	l := New("dmss-log", cfg)
	l.Warn().Msg("retrying")
	out := buf.String()
	if !strings.Contains(out, "WRN") || !strings.Contains(out, "retrying") {
		t.Fatalf("console output = %q", out)
	}
}
