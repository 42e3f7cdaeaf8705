package device

import (
	"time"

	"hallmidi/calibration"
	"hallmidi/settings"
)

// Broadcast is a state change published by the device loop for observers
// such as the status websocket.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastNote reports a note request made by the key bank.
type BroadcastNote struct {
	Key       int
	Note      int
	On        bool
	Velocity  int
	Delivered bool
	At        time.Time
}

func (BroadcastNote) broadcastMarker() {}

// BroadcastModeChanged reports a switch between scanning and calibrating.
type BroadcastModeChanged struct {
	Mode Mode
	At   time.Time
}

func (BroadcastModeChanged) broadcastMarker() {}

// BroadcastSettingsChanged carries the settings now in effect.
type BroadcastSettingsChanged struct {
	Settings settings.Settings
	At       time.Time
}

func (BroadcastSettingsChanged) broadcastMarker() {}

// BroadcastCalibrationFinished carries the result of a calibration session.
type BroadcastCalibrationFinished struct {
	Report calibration.Report
	At     time.Time
}

func (BroadcastCalibrationFinished) broadcastMarker() {}
