package keys

import "fmt"

// Position of a key as seen by the hysteresis detector.
type Position uint8

const (
	Released Position = iota
	Pressed
	Undefined
)

func (p Position) String() string {
	switch p {
	case Released:
		return "released"
	case Pressed:
		return "pressed"
	case Undefined:
		return "undefined"
	default:
		return fmt.Sprintf("Position(%d)", uint8(p))
	}
}

// EdgeKind says whether an update requests a note message.
type EdgeKind uint8

const (
	EdgeNone EdgeKind = iota
	EdgeNoteOn
	EdgeNoteOff
)

func (e EdgeKind) String() string {
	switch e {
	case EdgeNoteOn:
		return "note_on"
	case EdgeNoteOff:
		return "note_off"
	default:
		return "none"
	}
}

// Edge is the result of one Key.Update. Velocity is set for EdgeNoteOn only.
type Edge struct {
	Kind     EdgeKind
	Velocity int
}

// Key is the three-state press detector of one channel.
//
// Thresholds are derived from the calibrated released and pressed voltages,
// so the same code serves sensors whose voltage rises or falls on a press:
//
//	off = (pressed + released) / 2
//	on  = off + hysteresis% * (pressed - released) / 100
//
// Note-on and note-off requests strictly alternate; noteOnSent tracks which
// one is due next.
type Key struct {
	pos Position

	released int
	on, off  int
	dir      int // +1 when pressing raises the voltage, -1 when it lowers it

	capture []uint16
	cidx    int
	vel     int // velocity of the current press

	noteOnSent bool
}

// NewKey returns a released key. captureLen is the velocity window K (at least 1).
func NewKey(released, pressed uint16, hystPct int, captureLen int) *Key {
	if captureLen < 1 {
		captureLen = 1
	}
	k := &Key{capture: make([]uint16, captureLen)}
	k.Configure(released, pressed, hystPct)
	return k
}

// Configure re-derives the thresholds from new references and returns the
// key to Released with an empty capture window. A pending note-off is
// forgotten, so callers release sounding notes first.
func (k *Key) Configure(released, pressed uint16, hystPct int) {
	r, p := int(released), int(pressed)
	k.released = r
	k.off = (p + r) / 2
	k.on = k.off + hystPct*(p-r)/100
	k.dir = 1
	if p < r {
		k.dir = -1
	}
	k.pos = Released
	k.noteOnSent = false
	k.resetCapture()
}

// Update feeds one filtered value and returns the requested edge, if any.
//
// The velocity is taken from the capture window as it was before the sample
// that crossed the on threshold, so a key that jumps there in one pass plays
// at full velocity. While a request is outstanding (see Revert) it is made
// again on every pass that keeps the key on the same side.
func (k *Key) Update(value uint16) Edge {
	v := int(value)

	switch {
	case k.dir*(v-k.on) > 0:
		if k.pos != Pressed {
			k.pos = Pressed
			k.vel = Velocity(k.capture, k.released, k.on)
		}
		k.record(value)
		if k.noteOnSent {
			return Edge{}
		}
		k.noteOnSent = true
		return Edge{Kind: EdgeNoteOn, Velocity: k.vel}

	case k.dir*(v-k.off) < 0:
		if k.pos != Released {
			k.pos = Released
			k.resetCapture()
		}
		if !k.noteOnSent {
			return Edge{}
		}
		k.noteOnSent = false
		return Edge{Kind: EdgeNoteOff}

	default:
		// Dead band between off and on.
		k.pos = Undefined
		k.record(value)
		return Edge{}
	}
}

// Revert undoes the bookkeeping of an edge the sink refused, so that
// noteOnSent again matches what was actually sent.
func (k *Key) Revert(kind EdgeKind) {
	switch kind {
	case EdgeNoteOn:
		k.noteOnSent = false
	case EdgeNoteOff:
		k.noteOnSent = true
	}
}

// Position returns the current detector state.
func (k *Key) Position() Position { return k.pos }

// NoteOnSent reports whether a note-on was requested since the last note-off.
func (k *Key) NoteOnSent() bool { return k.noteOnSent }

// Thresholds returns the derived on and off thresholds and the released reference.
func (k *Key) Thresholds() (on, off, released int) { return k.on, k.off, k.released }

// Release forces the key to Released and reports whether a note-off is due.
func (k *Key) Release() bool {
	due := k.noteOnSent
	k.pos = Released
	k.noteOnSent = false
	k.resetCapture()
	return due
}

func (k *Key) record(v uint16) {
	k.capture[k.cidx] = v
	k.cidx = (k.cidx + 1) % len(k.capture)
}

func (k *Key) resetCapture() {
	ref := uint16(k.released)
	for i := range k.capture {
		k.capture[i] = ref
	}
	k.cidx = 0
}
