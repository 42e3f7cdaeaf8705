package control

import (
	"time"

	"hallmidi/device"
	"hallmidi/settings"
)

// SettingsView is the external form of settings.Settings, trimmed to the
// scanned channels.
type SettingsView struct {
	MidiChannel   int      `json:"midi_channel"`
	BaseNote      int      `json:"base_note"`
	FastMIDI      bool     `json:"fast_midi"`
	HysteresisPct int      `json:"hysteresis_pct"`
	Polarity      string   `json:"polarity"`
	Threshold     []uint16 `json:"threshold"`
	Span          []uint16 `json:"span"`
}

// NewSettingsView renders s for the first channels channels.
func NewSettingsView(s settings.Settings, channels int) SettingsView {
	if channels <= 0 || channels > settings.MaxChannels {
		channels = settings.MaxChannels
	}
	return SettingsView{
		MidiChannel:   int(s.Channel) + 1,
		BaseNote:      int(s.BaseNote),
		FastMIDI:      s.FastMIDI,
		HysteresisPct: int(s.HysteresisPct),
		Polarity:      string(s.Polarity),
		Threshold:     append([]uint16(nil), s.Threshold[:channels]...),
		Span:          append([]uint16(nil), s.Span[:channels]...),
	}
}

// Status is the payload of a "status" response and of the websocket
// "state_init" message.
type Status struct {
	Mode       string       `json:"mode"`
	Settings   SettingsView `json:"settings"`
	Positions  []string     `json:"positions"`
	Filtered   []uint16     `json:"filtered"`
	Passes     uint64       `json:"passes"`
	ScanErrors uint64       `json:"scan_errors"`
	Dropped    uint64       `json:"dropped_notes"`
	At         time.Time    `json:"at"`
}

// NewStatus converts a device snapshot.
func NewStatus(snap device.Snapshot) Status {
	return Status{
		Mode:       snap.Mode.String(),
		Settings:   NewSettingsView(snap.Settings, len(snap.Positions)),
		Positions:  device.PositionNames(snap.Positions),
		Filtered:   snap.Filtered,
		Passes:     snap.Passes,
		ScanErrors: snap.ScanErrors,
		Dropped:    snap.Dropped,
		At:         snap.At,
	}
}
