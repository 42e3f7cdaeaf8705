//go:build !linux

package hw

import (
	"errors"
	"log/slog"
)

// SPIScanner is only available on Linux.
type SPIScanner struct{}

// OpenSPIScanner always fails outside Linux.
func OpenSPIScanner(paths []string, speedHz uint32, logger *slog.Logger) (*SPIScanner, error) {
	return nil, errors.New("spi scanner requires linux spidev")
}

func (s *SPIScanner) ReadAll(dst []uint16) error {
	return errors.New("spi scanner requires linux spidev")
}

func (s *SPIScanner) Close() error { return nil }
