// Package keys turns raw sensor codes into note requests: a moving average
// filter, a hysteresis detector and a velocity estimate per channel, driven
// pass by pass by a Bank.
package keys

import (
	"log/slog"

	"hallmidi/settings"
)

// Defaults for Config.
const (
	DefaultFilterWindow = 2
	DefaultCaptureLen   = 10
)

// Sink receives note requests. *midi.Encoder implements it.
type Sink interface {
	NoteOn(ch, base uint8, key int, vel int) error
	NoteOff(ch, base uint8, key int) error
}

// Config sizes a Bank. Zero values take the defaults.
type Config struct {
	Channels     int
	FilterWindow int
	CaptureLen   int
}

// EdgeEvent describes a note request made by the bank.
type EdgeEvent struct {
	Key       int
	Note      int
	Kind      EdgeKind
	Velocity  int
	Delivered bool
}

// Bank owns the filter and detector of every channel. It is driven by a
// single goroutine; nothing in it is safe for concurrent use.
type Bank struct {
	filters []*Filter
	keys    []*Key
	last    []uint16

	// failing marks channels whose last request was refused and is being
	// retried pass by pass.
	failing []bool

	set  settings.Settings
	sink Sink

	logger *slog.Logger

	// OnEdge, if set, is called after each note request in scan order.
	OnEdge func(EdgeEvent)

	dropped uint64
}

// NewBank builds the per-channel state from s.
func NewBank(cfg Config, s settings.Settings, sink Sink, logger *slog.Logger) *Bank {
	if cfg.Channels <= 0 || cfg.Channels > settings.MaxChannels {
		cfg.Channels = settings.MaxChannels
	}
	if cfg.FilterWindow <= 0 {
		cfg.FilterWindow = DefaultFilterWindow
	}
	if cfg.CaptureLen <= 0 {
		cfg.CaptureLen = DefaultCaptureLen
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bank{
		filters: make([]*Filter, cfg.Channels),
		keys:    make([]*Key, cfg.Channels),
		last:    make([]uint16, cfg.Channels),
		failing: make([]bool, cfg.Channels),
		set:     s,
		sink:    sink,
		logger:  logger,
	}
	for ch := range b.keys {
		rel, pr := s.References(ch)
		b.filters[ch] = NewFilter(cfg.FilterWindow)
		b.keys[ch] = NewKey(rel, pr, int(s.HysteresisPct), cfg.CaptureLen)
	}
	return b
}

// Channels returns N.
func (b *Bank) Channels() int { return len(b.keys) }

// Settings returns the snapshot the bank is running with.
func (b *Bank) Settings() settings.Settings { return b.set }

// Process runs one scan pass. raw must hold at least Channels() codes;
// channels are handled in index order so simultaneous edges reach the sink
// in that order.
//
// A request the sink refuses is reverted on the key and made again on the
// following passes for as long as the key stays on the same side.
func (b *Bank) Process(raw []uint16) {
	for ch, k := range b.keys {
		v := b.filters[ch].Add(raw[ch])
		b.last[ch] = v
		e := k.Update(v)
		switch e.Kind {
		case EdgeNoteOn:
			b.emit(ch, e, b.sink.NoteOn(b.set.Channel, b.set.BaseNote, ch, e.Velocity))
		case EdgeNoteOff:
			b.emit(ch, e, b.sink.NoteOff(b.set.Channel, b.set.BaseNote, ch))
		default:
			// The key left the side of a refused request; nothing is pending.
			b.failing[ch] = false
		}
	}
}

// Apply switches to a new settings snapshot. Sounding notes are released with
// the old channel and base note, then every key re-derives its thresholds.
// A note-off refused here is not retried: it would go out with the new
// channel and base note.
func (b *Bank) Apply(s settings.Settings) {
	b.ReleaseAll()
	b.set = s
	for ch, k := range b.keys {
		rel, pr := s.References(ch)
		k.Configure(rel, pr, int(s.HysteresisPct))
		b.failing[ch] = false
	}
}

// ReleaseAll sends note-off for every key with a pending note-on and returns
// how many were released. A refused note-off stays due and is retried by
// Process.
func (b *Bank) ReleaseAll() int {
	n := 0
	for ch, k := range b.keys {
		if !k.Release() {
			continue
		}
		n++
		b.emit(ch, Edge{Kind: EdgeNoteOff}, b.sink.NoteOff(b.set.Channel, b.set.BaseNote, ch))
	}
	return n
}

// Positions returns the current position of every key.
func (b *Bank) Positions() []Position {
	out := make([]Position, len(b.keys))
	for ch, k := range b.keys {
		out[ch] = k.Position()
	}
	return out
}

// Filtered returns the last filtered value of every channel.
func (b *Bank) Filtered() []uint16 {
	return append([]uint16(nil), b.last...)
}

// Key returns the detector of channel ch.
func (b *Bank) Key(ch int) *Key { return b.keys[ch] }

// Dropped returns how many note requests the sink refused. Retries of the
// same request are not counted again.
func (b *Bank) Dropped() uint64 { return b.dropped }

func (b *Bank) emit(ch int, e Edge, err error) {
	ev := EdgeEvent{
		Key:       ch,
		Note:      int(b.set.BaseNote) + ch,
		Kind:      e.Kind,
		Velocity:  e.Velocity,
		Delivered: err == nil,
	}
	if err != nil {
		b.keys[ch].Revert(e.Kind)
		if b.failing[ch] {
			return
		}
		b.failing[ch] = true
		b.dropped++
		b.logger.Warn("note dropped, retrying", "key", ch, "kind", e.Kind.String(), "error", err)
	} else {
		if b.failing[ch] {
			b.failing[ch] = false
			b.logger.Info("note delivered after retry", "key", ch, "kind", e.Kind.String())
		}
		b.logger.Debug("note", "key", ch, "kind", e.Kind.String(), "velocity", e.Velocity)
	}
	if b.OnEdge != nil {
		b.OnEdge(ev)
	}
}
