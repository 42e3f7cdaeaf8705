package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"hallmidi/calibration"
	"hallmidi/device"
	"hallmidi/settings"
)

// Config is the top-level YAML configuration for the hallmidi daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. Flags only override single fields.
type Config struct {
	// Sensor acquisition
	Scanner ScannerConfig `yaml:"scanner"`

	// Filter / key state machine sizing
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Calibration windowing
	Calibration CalibrationConfig `yaml:"calibration"`

	// MIDI out (serial UART)
	MidiOut MidiOutConfig `yaml:"midi_out"`

	// MIDI in (serial UART, forwarded to MIDI out)
	MidiIn MidiInConfig `yaml:"midi_in"`

	// Persistent user settings
	Settings SettingsConfig `yaml:"settings"`

	// IPC control socket
	IPC IPCConfig `yaml:"ipc"`

	// Status HTTP/websocket server
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type ScannerConfig struct {
	Type     string `yaml:"type"` // "spi" or "replay"
	Channels int    `yaml:"channels"`

	// spi
	Devices []string `yaml:"devices,omitempty"` // one spidev node per MCP3208
	SpeedHz uint32   `yaml:"speed_hz,omitempty"`

	// replay
	File string `yaml:"file,omitempty"`
	Loop bool   `yaml:"loop,omitempty"`
}

type PipelineConfig struct {
	FilterWindow   int `yaml:"filter_window"`
	CaptureLen     int `yaml:"capture_len"`
	ScanIntervalUS int `yaml:"scan_interval_us"`
}

type CalibrationConfig struct {
	SamplingIntervalMS int    `yaml:"sampling_interval_ms"`
	MinSampleCount     int    `yaml:"min_sample_count"`
	MinimalDelta       uint16 `yaml:"minimal_delta"`
}

type MidiOutConfig struct {
	Port      string `yaml:"port"` // empty disables the UART; notes are only logged
	FastBaud  int    `yaml:"fast_baud"`
	QueueSize int    `yaml:"queue_size"`
	Batch     int    `yaml:"batch"`
}

type MidiInConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"` // 0 disables the status server
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	cal := calibration.DefaultConfig()
	return Config{
		Scanner: ScannerConfig{
			Type:     scannerSPI,
			Channels: settings.MaxChannels,
			Devices:  defaultSPIDevices(),
			SpeedHz:  defaultSPISpeedHz,
		},
		Pipeline: PipelineConfig{
			FilterWindow:   defaultFilterWindow,
			CaptureLen:     defaultCaptureLen,
			ScanIntervalUS: defaultScanIntervalUS,
		},
		Calibration: CalibrationConfig{
			SamplingIntervalMS: int(cal.SamplingInterval / time.Millisecond),
			MinSampleCount:     cal.MinSampleCount,
			MinimalDelta:       cal.MinimalDelta,
		},
		MidiOut: MidiOutConfig{
			Port:      defaultMidiOutPort,
			FastBaud:  defaultFastBaud,
			QueueSize: defaultQueueSize,
			Batch:     defaultBatch,
		},
		MidiIn: MidiInConfig{
			Enabled: false,
			Port:    "",
		},
		Settings: SettingsConfig{
			Path: defaultSettingsPath,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logFormatText,
		},
	}
}

func defaultSPIDevices() []string {
	devs := make([]string, 0, settings.MaxChannels/8)
	for i := 0; i < settings.MaxChannels/8; i++ {
		devs = append(devs, fmt.Sprintf("/dev/spidev0.%d", i))
	}
	return devs
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies command-line overrides on top of a loaded config.
// Each pointer is only applied if non-nil, even when it holds a zero value.
type FlagOverrides struct {
	ScannerType  *string
	Channels     *int
	ReplayFile   *string
	ReplayLoop   *bool
	MidiOutPort  *string
	MidiInPort   *string
	SettingsPath *string

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ScannerType != nil {
		cfg.Scanner.Type = *o.ScannerType
	}
	if o.Channels != nil {
		cfg.Scanner.Channels = *o.Channels
	}
	if o.ReplayFile != nil {
		cfg.Scanner.File = *o.ReplayFile
		// A capture file only makes sense with the replay scanner.
		if o.ScannerType == nil {
			cfg.Scanner.Type = scannerReplay
		}
	}
	if o.ReplayLoop != nil {
		cfg.Scanner.Loop = *o.ReplayLoop
	}
	if o.MidiOutPort != nil {
		cfg.MidiOut.Port = *o.MidiOutPort
	}
	if o.MidiInPort != nil {
		cfg.MidiIn.Port = *o.MidiInPort
		cfg.MidiIn.Enabled = *o.MidiInPort != ""
	}
	if o.SettingsPath != nil {
		cfg.Settings.Path = *o.SettingsPath
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Scanner
	if c.Scanner.Channels <= 0 || c.Scanner.Channels > settings.MaxChannels {
		return fmt.Errorf("scanner.channels must be between 1 and %d", settings.MaxChannels)
	}
	switch c.Scanner.Type {
	case scannerSPI:
		if len(c.Scanner.Devices) == 0 {
			return errors.New("scanner.devices must not be empty for the spi scanner")
		}
		for i, dev := range c.Scanner.Devices {
			if dev == "" {
				return fmt.Errorf("scanner.devices[%d] is empty", i)
			}
		}
		if need := (c.Scanner.Channels + 7) / 8; len(c.Scanner.Devices) < need {
			return fmt.Errorf("scanner.channels=%d needs %d spi devices, have %d", c.Scanner.Channels, need, len(c.Scanner.Devices))
		}
		if c.Scanner.SpeedHz == 0 {
			return errors.New("scanner.speed_hz must be > 0")
		}
	case scannerReplay:
		if c.Scanner.File == "" {
			return errors.New("scanner.file must be set for the replay scanner")
		}
	default:
		return fmt.Errorf("scanner.type must be %q or %q", scannerSPI, scannerReplay)
	}

	// Pipeline
	if c.Pipeline.FilterWindow < 1 || c.Pipeline.FilterWindow > 64 {
		return errors.New("pipeline.filter_window must be between 1 and 64")
	}
	if c.Pipeline.CaptureLen < 2 {
		return errors.New("pipeline.capture_len must be >= 2")
	}
	if c.Pipeline.ScanIntervalUS <= 0 {
		return errors.New("pipeline.scan_interval_us must be > 0")
	}

	// Calibration
	if c.Calibration.SamplingIntervalMS <= 0 {
		return errors.New("calibration.sampling_interval_ms must be > 0")
	}
	if c.Calibration.MinSampleCount <= 0 {
		return errors.New("calibration.min_sample_count must be > 0")
	}

	// MIDI
	if c.MidiOut.FastBaud <= 0 {
		return errors.New("midi_out.fast_baud must be > 0")
	}
	if c.MidiOut.QueueSize < 3 {
		return errors.New("midi_out.queue_size must hold at least one 3-byte message")
	}
	if c.MidiOut.Batch <= 0 {
		return errors.New("midi_out.batch must be > 0")
	}
	if c.MidiIn.Enabled && c.MidiIn.Port == "" {
		return errors.New("midi_in.enabled is true but midi_in.port is empty")
	}

	// Settings / IPC / HTTP
	if c.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != logFormatText && c.Logging.Format != logFormatJSON {
		return fmt.Errorf("logging.format must be %q or %q", logFormatText, logFormatJSON)
	}

	return nil
}

// ToDeviceConfig converts the file config into the device pipeline config.
func (c *Config) ToDeviceConfig() device.Config {
	return device.Config{
		Channels:     c.Scanner.Channels,
		FilterWindow: c.Pipeline.FilterWindow,
		CaptureLen:   c.Pipeline.CaptureLen,
		ScanInterval: time.Duration(c.Pipeline.ScanIntervalUS) * time.Microsecond,
		Calibration: calibration.Config{
			SamplingInterval: time.Duration(c.Calibration.SamplingIntervalMS) * time.Millisecond,
			MinSampleCount:   c.Calibration.MinSampleCount,
			MinimalDelta:     c.Calibration.MinimalDelta,
		},
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
