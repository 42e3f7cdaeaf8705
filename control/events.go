// Package control defines the line-delimited JSON protocol spoken on the
// daemon's unix socket, plus a small client for it.
//
// Protocol:
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or {"status": "error", "error": "msg"}
package control

import (
	"encoding/json"
	"fmt"

	"hallmidi/settings"
)

// Event is a marker interface for every request a client may send.
type Event interface {
	eventMarker()
}

// CalibrationStart switches the device to calibration mode.
type CalibrationStart struct{}

func (CalibrationStart) eventMarker() {}

// CalibrationFinish computes and stores new thresholds.
type CalibrationFinish struct{}

func (CalibrationFinish) eventMarker() {}

// CalibrationAbort leaves calibration mode without touching thresholds.
type CalibrationAbort struct{}

func (CalibrationAbort) eventMarker() {}

// SettingsUpdate changes the user-facing settings. Nil fields are left alone.
// MidiChannel is 1-16 as printed on instruments.
type SettingsUpdate struct {
	MidiChannel   *int    `json:"midi_channel,omitempty"`
	BaseNote      *int    `json:"base_note,omitempty"`
	FastMIDI      *bool   `json:"fast_midi,omitempty"`
	HysteresisPct *int    `json:"hysteresis_pct,omitempty"`
	Polarity      *string `json:"polarity,omitempty"`
}

func (SettingsUpdate) eventMarker() {}

// Apply writes the set fields into s after range-checking them.
func (u SettingsUpdate) Apply(s *settings.Settings) error {
	if u.MidiChannel != nil {
		if *u.MidiChannel < 1 || *u.MidiChannel > 16 {
			return fmt.Errorf("midi_channel %d out of range 1-16", *u.MidiChannel)
		}
		s.Channel = uint8(*u.MidiChannel - 1)
	}
	if u.BaseNote != nil {
		if *u.BaseNote < 0 || *u.BaseNote > 127 {
			return fmt.Errorf("base_note %d out of range 0-127", *u.BaseNote)
		}
		s.BaseNote = uint8(*u.BaseNote)
	}
	if u.FastMIDI != nil {
		s.FastMIDI = *u.FastMIDI
	}
	if u.HysteresisPct != nil {
		if *u.HysteresisPct < 0 || *u.HysteresisPct > 100 {
			return fmt.Errorf("hysteresis_pct %d out of range 0-100", *u.HysteresisPct)
		}
		s.HysteresisPct = uint8(*u.HysteresisPct)
	}
	if u.Polarity != nil {
		p := settings.Polarity(*u.Polarity)
		if p != settings.PolarityRaise && p != settings.PolarityLower {
			return fmt.Errorf("polarity must be %q or %q", settings.PolarityRaise, settings.PolarityLower)
		}
		s.Polarity = p
	}
	return nil
}

// Empty reports whether the update changes nothing.
func (u SettingsUpdate) Empty() bool {
	return u.MidiChannel == nil && u.BaseNote == nil && u.FastMIDI == nil &&
		u.HysteresisPct == nil && u.Polarity == nil
}

// SettingsReset restores the compiled-in defaults.
type SettingsReset struct{}

func (SettingsReset) eventMarker() {}

// StatusRequest asks for a status snapshot.
type StatusRequest struct{}

func (StatusRequest) eventMarker() {}

// Envelope wraps an event with a type discriminator.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent decodes one envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "calibration_start":
		return CalibrationStart{}, nil
	case "calibration_finish":
		return CalibrationFinish{}, nil
	case "calibration_abort":
		return CalibrationAbort{}, nil

	case "settings_update":
		var u SettingsUpdate
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("settings_update requires data")
		}
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return nil, fmt.Errorf("unmarshal SettingsUpdate: %w", err)
		}
		return u, nil

	case "settings_reset":
		return SettingsReset{}, nil
	case "status":
		return StatusRequest{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent encodes e into its envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env Envelope

	switch e := e.(type) {
	case CalibrationStart:
		env.Type = "calibration_start"
	case CalibrationFinish:
		env.Type = "calibration_finish"
	case CalibrationAbort:
		env.Type = "calibration_abort"

	case SettingsUpdate:
		env.Type = "settings_update"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal SettingsUpdate: %w", err)
		}
		env.Data = data

	case SettingsReset:
		env.Type = "settings_reset"
	case StatusRequest:
		env.Type = "status"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
