package midi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// State is the parser state of a Dispatcher.
type State int

const (
	StateUndefined State = iota
	StateSysEx
	StateSysExEnd
	StateOneDataByte
	StateTwoDataBytes
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "undefined"
	case StateSysEx:
		return "sysex"
	case StateSysExEnd:
		return "sysex_end"
	case StateOneDataByte:
		return "one_data_byte"
	case StateTwoDataBytes:
		return "two_data_bytes"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	statusSysEx    = 0xF0
	statusSysExEnd = 0xF7

	variableLength = -1
)

// statusInfo classifies a status byte: (b & mask) == value.
type statusInfo struct {
	mask      byte
	value     byte
	dataBytes int
	realtime  bool
	name      string
}

// statusTable is scanned in order; the first match wins.
// F4, F5 and a stray F7 are deliberately absent.
var statusTable = []statusInfo{
	// System real-time
	{0xFF, 0xF8, 0, true, "Timing Clock"},
	{0xFF, 0xF9, 0, true, "Undefined F9"},
	{0xFF, 0xFA, 0, true, "Start"},
	{0xFF, 0xFB, 0, true, "Continue"},
	{0xFF, 0xFC, 0, true, "Stop"},
	{0xFF, 0xFD, 0, true, "Undefined FD"},
	{0xFF, 0xFE, 0, true, "Active Sensing"},
	{0xFF, 0xFF, 0, true, "System Reset"},

	// Channel voice
	{0xF0, 0x80, 2, false, "Note Off"},
	{0xF0, 0x90, 2, false, "Note On"},
	{0xF0, 0xA0, 2, false, "Polyphonic Key Pressure"},
	{0xF0, 0xB0, 2, false, "Control Change"},
	{0xF0, 0xC0, 1, false, "Program Change"},
	{0xF0, 0xD0, 1, false, "Channel Pressure"},
	{0xF0, 0xE0, 2, false, "Pitch Bend"},

	// System common
	{0xFF, statusSysEx, variableLength, false, "System Exclusive"},
	{0xFF, 0xF1, 1, false, "MTC Quarter Frame"},
	{0xFF, 0xF2, 2, false, "Song Position Pointer"},
	{0xFF, 0xF3, 1, false, "Song Select"},
	{0xFF, 0xF6, 0, false, "Tune Request"},
}

func lookupStatus(b byte) (statusInfo, bool) {
	for _, info := range statusTable {
		if b&info.mask == info.value {
			return info, true
		}
	}
	return statusInfo{}, false
}

func isStatus(b byte) bool { return b&0x80 != 0 }

// DispatcherStats counts what a Dispatcher did with its input.
type DispatcherStats struct {
	Messages  uint64 // complete messages (or SysEx bytes) forwarded
	Realtime  uint64 // real-time bytes forwarded
	Dropped   uint64 // bytes discarded as unknown or out of frame
	SysExRuns uint64 // SysEx messages started
}

// Dispatcher re-frames an incoming MIDI byte stream and forwards complete
// messages to a Queue. Real-time bytes pass through immediately without
// touching a partially assembled message.
//
// A Dispatcher is not safe for concurrent use; give each input stream its own.
type Dispatcher struct {
	q      *Queue
	logger *slog.Logger

	state State
	buf   [3]byte
	idx   int
	want  int // data bytes expected after buf[0]

	// running reports whether buf[0] may be reused by following data bytes.
	running bool

	stats DispatcherStats
}

// NewDispatcher returns a dispatcher in StateUndefined that writes to q.
func NewDispatcher(q *Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{q: q, logger: logger}
}

// State returns the current parser state.
func (d *Dispatcher) State() State { return d.state }

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatcherStats { return d.stats }

// Feed processes one byte. The only error is from a canceled ctx while waiting
// for queue space.
func (d *Dispatcher) Feed(ctx context.Context, b byte) error {
	// Real-time bytes are priority interruptions, even inside SysEx.
	if b >= 0xF8 {
		d.stats.Realtime++
		return d.q.BlockingEnqueue(ctx, []byte{b})
	}

	switch d.state {
	case StateSysEx:
		d.stats.Messages++
		if b == statusSysExEnd {
			d.state = StateSysExEnd
		}
		return d.q.BlockingEnqueue(ctx, []byte{b})

	case StateSysExEnd:
		// Lasts a single byte; classify this one from scratch.
		d.state = StateUndefined
	}

	if isStatus(b) {
		return d.status(ctx, b)
	}
	return d.data(ctx, b)
}

// Write feeds every byte of p, so a Dispatcher can sit behind io.Copy.
func (d *Dispatcher) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := d.Feed(context.Background(), b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Run reads r until ctx is canceled or r fails, feeding every byte. A read
// that returns no data and no error (a serial read timeout) just loops, so
// the reader should be configured with a timeout for prompt shutdown.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if ferr := d.Feed(ctx, b); ferr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.logger.Info("midi in: input closed")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("midi in read: %w", err)
		}
	}
}

func (d *Dispatcher) status(ctx context.Context, b byte) error {
	info, ok := lookupStatus(b)
	if !ok {
		d.logger.Debug("midi in: unknown status byte", "byte", fmt.Sprintf("0x%02X", b), "state", d.state.String())
		d.reset()
		d.stats.Dropped++
		return nil
	}

	switch info.dataBytes {
	case variableLength:
		d.reset()
		d.state = StateSysEx
		d.stats.SysExRuns++
		d.stats.Messages++
		return d.q.BlockingEnqueue(ctx, []byte{b})

	case 0:
		d.reset()
		d.stats.Messages++
		return d.q.BlockingEnqueue(ctx, []byte{b})

	case 1:
		d.arm(b, 1, StateOneDataByte)
	case 2:
		d.arm(b, 2, StateTwoDataBytes)
	}
	// Channel voice messages may be continued with running status.
	d.running = b < 0xF0
	return nil
}

func (d *Dispatcher) data(ctx context.Context, b byte) error {
	if d.state != StateOneDataByte && d.state != StateTwoDataBytes {
		d.stats.Dropped++
		return nil
	}

	d.buf[d.idx] = b
	d.idx++
	if d.idx <= d.want {
		return nil
	}

	msg := make([]byte, d.idx)
	copy(msg, d.buf[:d.idx])
	d.stats.Messages++
	if d.logger.Enabled(ctx, slog.LevelDebug) {
		d.logger.Debug("midi in", "msg", gomidi.Message(msg).String())
	}

	if d.running {
		d.idx = 1
	} else {
		d.reset()
	}
	return d.q.BlockingEnqueue(ctx, msg)
}

func (d *Dispatcher) arm(status byte, want int, st State) {
	d.buf[0] = status
	d.idx = 1
	d.want = want
	d.state = st
}

func (d *Dispatcher) reset() {
	d.state = StateUndefined
	d.idx = 0
	d.want = 0
	d.running = false
}
