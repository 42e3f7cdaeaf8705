package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"hallmidi/calibration"
	"hallmidi/hw"
	"hallmidi/keys"
	"hallmidi/settings"
)

// ============================================================================
// Device loop - single owner of settings, key state and calibration
// ============================================================================
//
// The scan loop is the only goroutine that touches Settings, the key bank
// and the calibration engine. Other goroutines (IPC, HTTP) submit requests
// that run between two scan passes, so a mode switch or a settings change
// can never overlap a pass.
//
// Modes:
//   - Scanning:    every pass feeds the key bank, which emits notes
//   - Calibrating: every pass feeds the calibration engine, no notes
//
// ============================================================================

// Mode is the operating mode of the device.
type Mode int32

const (
	ModeScanning Mode = iota
	ModeCalibrating
)

func (m Mode) String() string {
	switch m {
	case ModeScanning:
		return "scanning"
	case ModeCalibrating:
		return "calibrating"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

var (
	ErrAlreadyCalibrating = errors.New("calibration already running")
	ErrNotCalibrating     = errors.New("calibration not running")
	ErrStopped            = errors.New("device loop not running")
)

const defaultScanInterval = time.Millisecond

// Config sizes the pipeline.
type Config struct {
	Channels     int
	FilterWindow int
	CaptureLen   int
	ScanInterval time.Duration
	Calibration  calibration.Config
}

// Snapshot is a consistent view of the device taken between two passes.
type Snapshot struct {
	Mode       Mode
	Settings   settings.Settings
	Positions  []keys.Position
	Filtered   []uint16
	Passes     uint64
	ScanErrors uint64
	Dropped    uint64
	At         time.Time
}

type request struct {
	fn   func()
	done chan struct{}
}

// Device runs the scan loop. Create it with New and start Run in its own
// goroutine.
type Device struct {
	cfg    Config
	logger *slog.Logger

	scanner hw.Scanner
	store   settings.Store

	bank *keys.Bank
	cal  *calibration.Engine
	raw  []uint16

	mode     atomic.Int32
	requests chan request
	bcast    chan Broadcast
	running  atomic.Bool

	passes     uint64
	scanErrors uint64

	// OnSettings, if set, runs on the loop goroutine when Run starts and
	// after every settings change. Set it before calling Run.
	OnSettings func(settings.Settings)
}

// New loads settings from store and builds the key bank around sink.
// A failed save of repaired settings is logged; the device still starts.
func New(cfg Config, scanner hw.Scanner, store settings.Store, sink keys.Sink, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channels <= 0 || cfg.Channels > settings.MaxChannels {
		cfg.Channels = settings.MaxChannels
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}

	s, err := store.Load()
	if err != nil {
		logger.Warn("settings load reported an error, continuing with returned record", "error", err)
	}

	d := &Device{
		cfg:      cfg,
		logger:   logger,
		scanner:  scanner,
		store:    store,
		cal:      calibration.New(cfg.Channels, cfg.Calibration, logger),
		raw:      make([]uint16, cfg.Channels),
		requests: make(chan request),
		bcast:    make(chan Broadcast, 256),
	}
	d.bank = keys.NewBank(keys.Config{
		Channels:     cfg.Channels,
		FilterWindow: cfg.FilterWindow,
		CaptureLen:   cfg.CaptureLen,
	}, s, sink, logger)
	d.bank.OnEdge = d.onEdge
	return d
}

// Mode returns the current mode without going through the loop.
func (d *Device) Mode() Mode { return Mode(d.mode.Load()) }

// Broadcasts returns the stream of state changes. Values are dropped when
// nobody reads fast enough.
func (d *Device) Broadcasts() <-chan Broadcast { return d.bcast }

// Run scans until ctx is canceled. Sounding notes are released on exit.
func (d *Device) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("device loop already running")
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	d.logger.Info("device loop starting",
		"channels", d.cfg.Channels,
		"scan_interval", d.cfg.ScanInterval,
		"mode", d.Mode().String())
	if d.OnSettings != nil {
		d.OnSettings(d.bank.Settings())
	}

	for {
		select {
		case <-ctx.Done():
			if n := d.bank.ReleaseAll(); n > 0 {
				d.logger.Info("released held notes on shutdown", "count", n)
			}
			d.logger.Info("device loop stopping (context canceled)")
			return nil

		case req := <-d.requests:
			req.fn()
			close(req.done)

		case now := <-ticker.C:
			d.pass(now)
		}
	}
}

// pass performs one scan of every channel in the current mode.
func (d *Device) pass(now time.Time) {
	if err := d.scanner.ReadAll(d.raw); err != nil {
		d.scanErrors++
		if d.scanErrors == 1 || d.scanErrors%1000 == 0 {
			d.logger.Warn("scan failed", "error", err, "errors", d.scanErrors)
		}
		return
	}
	d.passes++

	switch d.Mode() {
	case ModeScanning:
		d.bank.Process(d.raw)
	case ModeCalibrating:
		d.cal.Sample(d.raw, now)
	}
}

// call runs fn on the loop goroutine between passes and waits for it.
func (d *Device) call(ctx context.Context, fn func()) error {
	if !d.running.Load() {
		return ErrStopped
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted, the request always completes.
	<-req.done
	return nil
}

func (d *Device) setMode(m Mode) {
	if Mode(d.mode.Swap(int32(m))) == m {
		return
	}
	d.logger.Info("mode changed", "mode", m.String())
	d.publish(BroadcastModeChanged{Mode: m, At: time.Now()})
}

func (d *Device) applySettings(s settings.Settings) {
	if err := d.store.Save(s); err != nil {
		d.logger.Error("settings save failed", "error", err)
	}
	d.bank.Apply(s)
	if d.OnSettings != nil {
		d.OnSettings(s)
	}
	d.publish(BroadcastSettingsChanged{Settings: s, At: time.Now()})
}

func (d *Device) onEdge(e keys.EdgeEvent) {
	d.publish(BroadcastNote{
		Key:       e.Key,
		Note:      e.Note,
		On:        e.Kind == keys.EdgeNoteOn,
		Velocity:  e.Velocity,
		Delivered: e.Delivered,
		At:        time.Now(),
	})
}

func (d *Device) publish(b Broadcast) {
	select {
	case d.bcast <- b:
	default:
	}
}
