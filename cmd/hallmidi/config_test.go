package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hallmidi.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Scanner.Devices) != 8 {
		t.Fatalf("expected 8 spidev nodes, got %d", len(cfg.Scanner.Devices))
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
scanner:
  type: replay
  channels: 16
  file: capture.txt
  loop: true
pipeline:
  scan_interval_us: 500
calibration:
  minimal_delta: 150
midi_out:
  port: ""
logging:
  level: debug
  format: json
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Scanner.Type != scannerReplay || cfg.Scanner.Channels != 16 || !cfg.Scanner.Loop {
		t.Fatalf("scanner section not applied: %+v", cfg.Scanner)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.FilterWindow != defaultFilterWindow || cfg.MidiOut.FastBaud != defaultFastBaud {
		t.Fatalf("defaults lost: %+v %+v", cfg.Pipeline, cfg.MidiOut)
	}

	dc := cfg.ToDeviceConfig()
	if dc.ScanInterval != 500*time.Microsecond {
		t.Errorf("scan interval = %v", dc.ScanInterval)
	}
	if dc.Calibration.SamplingInterval != 100*time.Millisecond || dc.Calibration.MinimalDelta != 150 {
		t.Errorf("calibration config = %+v", dc.Calibration)
	}
}

func TestLoadConfigFileRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "scanner:\n  chanels: 8\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected error for misspelled field")
	}

	path = writeConfig(t, "logging:\n  level: info\n---\n{}\n")
	if _, err := LoadConfigFile(path); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestFlagOverrides(t *testing.T) {
	cfg := DefaultConfig()
	file := "keys.txt"
	in := "/dev/ttyUSB0"
	port := 0
	FlagOverrides{ReplayFile: &file, MidiInPort: &in, HTTPPort: &port}.Apply(&cfg)

	if cfg.Scanner.Type != scannerReplay || cfg.Scanner.File != file {
		t.Fatalf("replay override not applied: %+v", cfg.Scanner)
	}
	if !cfg.MidiIn.Enabled || cfg.MidiIn.Port != in {
		t.Fatalf("midi in override not applied: %+v", cfg.MidiIn)
	}
	if cfg.HTTP.Port != 0 {
		t.Fatalf("zero-value override must apply")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"too many channels", func(c *Config) { c.Scanner.Channels = 65 }, "scanner.channels"},
		{"unknown scanner", func(c *Config) { c.Scanner.Type = "i2c" }, "scanner.type"},
		{"not enough chips", func(c *Config) { c.Scanner.Devices = c.Scanner.Devices[:2] }, "spi devices"},
		{"replay without file", func(c *Config) { c.Scanner.Type = scannerReplay }, "scanner.file"},
		{"capture too short", func(c *Config) { c.Pipeline.CaptureLen = 1 }, "capture_len"},
		{"tiny queue", func(c *Config) { c.MidiOut.QueueSize = 2 }, "queue_size"},
		{"midi in without port", func(c *Config) { c.MidiIn.Enabled = true }, "midi_in.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/hallmidi.yaml"); got != filepath.Join(home, "hallmidi.yaml") {
		t.Errorf("got %q", got)
	}
	if got := ExpandPath("/etc/hallmidi.yaml"); got != "/etc/hallmidi.yaml" {
		t.Errorf("absolute path changed: %q", got)
	}
}
