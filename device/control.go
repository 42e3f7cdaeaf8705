package device

import (
	"context"
	"time"

	"hallmidi/calibration"
	"hallmidi/keys"
	"hallmidi/settings"
)

// StartCalibration releases held notes and switches to calibration mode.
func (d *Device) StartCalibration(ctx context.Context) error {
	var err error
	callErr := d.call(ctx, func() {
		if d.Mode() == ModeCalibrating {
			err = ErrAlreadyCalibrating
			return
		}
		if n := d.bank.ReleaseAll(); n > 0 {
			d.logger.Info("released held notes before calibration", "count", n)
		}
		d.cal.Start()
		d.setMode(ModeCalibrating)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// FinishCalibration computes new thresholds, persists them and returns to
// scanning.
func (d *Device) FinishCalibration(ctx context.Context) (calibration.Report, error) {
	var (
		rep calibration.Report
		err error
	)
	callErr := d.call(ctx, func() {
		if d.Mode() != ModeCalibrating {
			err = ErrNotCalibrating
			return
		}
		next, r := d.cal.Finish(d.bank.Settings())
		rep = r
		d.applySettings(next)
		d.publish(BroadcastCalibrationFinished{Report: r, At: time.Now()})
		d.setMode(ModeScanning)
	})
	if callErr != nil {
		return calibration.Report{}, callErr
	}
	return rep, err
}

// AbortCalibration discards the session and returns to scanning.
func (d *Device) AbortCalibration(ctx context.Context) error {
	var err error
	callErr := d.call(ctx, func() {
		if d.Mode() != ModeCalibrating {
			err = ErrNotCalibrating
			return
		}
		d.cal.Abort()
		d.setMode(ModeScanning)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// UpdateSettings applies mutate to a copy of the current settings. If the
// result validates, it is persisted and the keys re-derive their thresholds.
func (d *Device) UpdateSettings(ctx context.Context, mutate func(*settings.Settings) error) (settings.Settings, error) {
	var (
		out settings.Settings
		err error
	)
	callErr := d.call(ctx, func() {
		next := d.bank.Settings()
		if err = mutate(&next); err != nil {
			return
		}
		if err = next.Validate(); err != nil {
			return
		}
		d.applySettings(next)
		out = next
	})
	if callErr != nil {
		return settings.Settings{}, callErr
	}
	return out, err
}

// ResetSettings installs and persists the compiled-in defaults.
func (d *Device) ResetSettings(ctx context.Context) (settings.Settings, error) {
	def := settings.Defaults()
	err := d.call(ctx, func() {
		d.logger.Info("settings reset to defaults")
		d.applySettings(def)
	})
	if err != nil {
		return settings.Settings{}, err
	}
	return def, nil
}

// Snapshot returns the device state as seen between two passes.
func (d *Device) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := d.call(ctx, func() {
		snap = d.snapshot()
	})
	return snap, err
}

func (d *Device) snapshot() Snapshot {
	return Snapshot{
		Mode:       d.Mode(),
		Settings:   d.bank.Settings(),
		Positions:  d.bank.Positions(),
		Filtered:   d.bank.Filtered(),
		Passes:     d.passes,
		ScanErrors: d.scanErrors,
		Dropped:    d.bank.Dropped(),
		At:         time.Now(),
	}
}

// PositionNames renders positions for status output.
func PositionNames(ps []keys.Position) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}
