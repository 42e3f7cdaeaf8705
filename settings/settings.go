// Package settings holds the persisted device record: MIDI channel, base note,
// transmit speed and the per-key thresholds learned by calibration.
package settings

import (
	"errors"
	"fmt"
)

// MaxChannels is the size of the sensor bank (8 ADC chips x 8 inputs).
const MaxChannels = 64

// Magic marks a record as written by this program.
var Magic = [4]uint8{1, 2, 3, 4}

// Compiled-in defaults.
const (
	DefaultChannel       = 0
	DefaultBaseNote      = 36
	DefaultFastMIDI      = false
	DefaultHysteresisPct = 10
	DefaultThreshold     = 2000
	DefaultSpan          = 500
	DefaultPolarity      = PolarityRaise
)

// Polarity tells which way the sensor voltage moves when a key goes down.
// One polarity applies to the whole bank.
type Polarity string

const (
	PolarityRaise Polarity = "raise"
	PolarityLower Polarity = "lower"
)

// Settings is the full persisted record. It is a value type: copies are
// independent and two records can be compared with ==.
type Settings struct {
	Magic [4]uint8 `yaml:"magic,flow"`

	// Channel is the 0-based MIDI channel (0-15).
	Channel  uint8 `yaml:"midi_channel"`
	BaseNote uint8 `yaml:"base_note"`
	FastMIDI bool  `yaml:"fast_midi"`

	HysteresisPct uint8    `yaml:"hysteresis_pct"`
	Polarity      Polarity `yaml:"polarity"`

	// Threshold is the midpoint between released and pressed voltage, Span
	// the distance between them, both in ADC codes.
	Threshold [MaxChannels]uint16 `yaml:"threshold,flow"`
	Span      [MaxChannels]uint16 `yaml:"span,flow"`
}

// Defaults returns the compiled-in record.
func Defaults() Settings {
	s := Settings{
		Magic:         Magic,
		Channel:       DefaultChannel,
		BaseNote:      DefaultBaseNote,
		FastMIDI:      DefaultFastMIDI,
		HysteresisPct: DefaultHysteresisPct,
		Polarity:      DefaultPolarity,
	}
	for i := range s.Threshold {
		s.Threshold[i] = DefaultThreshold
		s.Span[i] = DefaultSpan
	}
	return s
}

// ErrBadMagic means the record was not written by this program.
var ErrBadMagic = errors.New("settings magic mismatch")

// Validate reports the first field that is out of range.
func (s Settings) Validate() error {
	if s.Magic != Magic {
		return ErrBadMagic
	}
	if s.Channel > 15 {
		return fmt.Errorf("midi_channel %d out of range 0-15", s.Channel)
	}
	if s.BaseNote > 127 {
		return fmt.Errorf("base_note %d out of range 0-127", s.BaseNote)
	}
	if s.HysteresisPct > 100 {
		return fmt.Errorf("hysteresis_pct %d out of range 0-100", s.HysteresisPct)
	}
	if s.Polarity != PolarityRaise && s.Polarity != PolarityLower {
		return fmt.Errorf("polarity must be %q or %q", PolarityRaise, PolarityLower)
	}
	return nil
}

// References returns the released and pressed voltage of channel ch.
func (s Settings) References(ch int) (released, pressed uint16) {
	th := int(s.Threshold[ch])
	half := int(s.Span[ch]) / 2
	lo, hi := clampCode(th-half), clampCode(th+half)
	if s.Polarity == PolarityLower {
		return hi, lo
	}
	return lo, hi
}

func clampCode(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
