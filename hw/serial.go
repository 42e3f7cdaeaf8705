package hw

import (
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// MIDI wire speeds.
const (
	StandardMIDIBaud = 31250
	DefaultFastBaud  = 115200
)

// BaudRate picks the UART speed for the fast-MIDI setting.
func BaudRate(fast bool, fastBaud int) int {
	if !fast {
		return StandardMIDIBaud
	}
	if fastBaud <= 0 {
		return DefaultFastBaud
	}
	return fastBaud
}

// SerialMode is the 8N1 framing MIDI uses, at baud.
func SerialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenSerial opens name at baud, 8N1. A non-zero readTimeout makes Read
// return (0, nil) when no byte arrived in time, so readers can observe
// cancellation.
func OpenSerial(name string, baud int, readTimeout time.Duration, logger *slog.Logger) (serial.Port, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := serial.Open(name, SerialMode(baud))
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("serial %s: set read timeout: %w", name, err)
		}
	}
	logger.Info("serial port opened", "device", name, "baud", baud)
	return p, nil
}
