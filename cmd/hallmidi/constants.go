package main

import "time"

// Scanner types
const (
	scannerSPI    = "spi"
	scannerReplay = "replay"
)

// Pipeline defaults: a 2-sample filter, a 10-sample velocity window and
// one pass per millisecond.
const (
	defaultFilterWindow   = 2
	defaultCaptureLen     = 10
	defaultScanIntervalUS = 1000

	defaultSPISpeedHz = 1_000_000 // MCP3208 at 5V is specified up to 2 MHz
)

// MIDI defaults
const (
	defaultMidiOutPort = "/dev/ttyAMA0"
	defaultFastBaud    = 115200
	defaultQueueSize   = 1024 // bytes, ~340 note messages
	defaultBatch       = 64

	// serialReadTimeout bounds each MIDI-in read so the reader notices shutdown.
	serialReadTimeout = 100 * time.Millisecond
)

// Service defaults
const (
	defaultSettingsPath = "/var/lib/hallmidi/settings.yaml"
	defaultSocketPath   = "/tmp/hallmidi.sock"
	defaultHTTPPort     = 3001

	ipcRequestTimeout = 2 * time.Second
)
