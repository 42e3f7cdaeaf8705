//go:build linux

package hw

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spidev ioctl requests from <linux/spi/spidev.h>.
const (
	spiIOCWrMode        = 0x40016B01 // _IOW('k', 1, __u8)
	spiIOCWrBitsPerWord = 0x40016B03 // _IOW('k', 3, __u8)
	spiIOCWrMaxSpeedHz  = 0x40046B04 // _IOW('k', 4, __u32)
	spiIOCMessage1      = 0x40206B00 // SPI_IOC_MESSAGE(1)
)

// spiIOCTransfer mirrors struct spi_ioc_transfer (32 bytes).
type spiIOCTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// SPIScanner reads MCP3208 converters through Linux spidev, one device node
// per chip select. Channel i is input i%8 of chip i/8.
type SPIScanner struct {
	devs    []*os.File
	speedHz uint32
	logger  *slog.Logger
}

// OpenSPIScanner opens every device in paths (e.g. /dev/spidev0.0) in mode 0.
func OpenSPIScanner(paths []string, speedHz uint32, logger *slog.Logger) (*SPIScanner, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("spi: no devices configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SPIScanner{speedHz: speedHz, logger: logger}
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR, 0)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		s.devs = append(s.devs, f)

		if err := ioctlU8(f, spiIOCWrMode, 0); err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: set mode: %w", p, err)
		}
		if err := ioctlU8(f, spiIOCWrBitsPerWord, 8); err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: set bits per word: %w", p, err)
		}
		speed := speedHz
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), spiIOCWrMaxSpeedHz, uintptr(unsafe.Pointer(&speed))); errno != 0 {
			s.Close()
			return nil, fmt.Errorf("%s: set speed: %w", p, errno)
		}
	}
	logger.Info("spi scanner ready", "chips", len(paths), "speed_hz", speedHz)
	return s, nil
}

// ReadAll converts len(dst) channels in order.
func (s *SPIScanner) ReadAll(dst []uint16) error {
	if len(dst) > len(s.devs)*ChannelsPerChip {
		return fmt.Errorf("spi: %d channels requested, %d chips configured", len(dst), len(s.devs))
	}
	for i := range dst {
		v, err := s.read(s.devs[i/ChannelsPerChip], i%ChannelsPerChip)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

func (s *SPIScanner) read(f *os.File, ch int) (uint16, error) {
	tx := mcp3208Command(ch)
	var rx [3]byte
	xfer := spiIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		length:      3,
		speedHz:     s.speedHz,
		bitsPerWord: 8,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), spiIOCMessage1, uintptr(unsafe.Pointer(&xfer))); errno != 0 {
		return 0, fmt.Errorf("spi transfer %s ch %d: %w", f.Name(), ch, errno)
	}
	return mcp3208Decode(rx), nil
}

// Close closes every opened device.
func (s *SPIScanner) Close() error {
	var first error
	for _, f := range s.devs {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.devs = nil
	return first
}

func ioctlU8(f *os.File, req uintptr, v uint8) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return errno
	}
	return nil
}
