// Package hw contains the hardware edges of the pipeline: sensor scanners
// and the serial port carrying MIDI in and out.
package hw

import "io"

// Scanner reads one raw code per channel.
//
// ReadAll fills every element of dst or returns an error; there are no
// partial reads.
type Scanner interface {
	ReadAll(dst []uint16) error
	io.Closer
}

// ChannelsPerChip is the number of inputs of one MCP3208.
const ChannelsPerChip = 8

// MCP3208 framing: start bit, single-ended, 3-bit channel address; the 12-bit
// result comes back in the low nibble of the second byte and the third byte.

func mcp3208Command(ch int) [3]byte {
	return [3]byte{
		0x06 | byte((ch&0x04)>>2),
		byte((ch & 0x03) << 6),
		0x00,
	}
}

func mcp3208Decode(rx [3]byte) uint16 {
	return uint16(rx[1]&0x0F)<<8 | uint16(rx[2])
}
