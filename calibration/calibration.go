// Package calibration learns the released and pressed voltage of every key
// while the player presses each key a few times.
//
// Raw codes are averaged over fixed time windows; the per-channel maximum
// and minimum of those averages bound the key's travel. On Finish, a channel
// whose travel exceeds the noise floor gets threshold = (max+min)/2 and
// span = max-min; every other channel keeps its previous values.
package calibration

import (
	"fmt"
	"log/slog"
	"time"

	"hallmidi/settings"
)

// State of an Engine.
type State uint8

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

const (
	maxInit = 0
	minInit = 0xFFFF
)

// Config tunes the sampling windows and the noise floor.
type Config struct {
	SamplingInterval time.Duration
	MinSampleCount   int
	MinimalDelta     uint16
}

// DefaultConfig uses 100 ms windows and a 200 code noise floor.
func DefaultConfig() Config {
	return Config{
		SamplingInterval: 100 * time.Millisecond,
		MinSampleCount:   1,
		MinimalDelta:     200,
	}
}

type accumulator struct {
	max, min uint16
	sum      uint64
}

// Report summarizes a finished session.
type Report struct {
	Updated []int `json:"updated"`
	Skipped []int `json:"skipped"`
	Windows int   `json:"windows"`
}

// Engine is driven by the scan loop; it is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	state State
	acc   []accumulator

	count       int
	windowStart time.Time
	started     bool
	windows     int
}

// New returns an idle engine for channels channels.
func New(channels int, cfg Config, logger *slog.Logger) *Engine {
	if channels <= 0 || channels > settings.MaxChannels {
		channels = settings.MaxChannels
	}
	def := DefaultConfig()
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = def.SamplingInterval
	}
	if cfg.MinSampleCount <= 0 {
		cfg.MinSampleCount = def.MinSampleCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		acc:    make([]accumulator, channels),
	}
}

// State returns Idle or Active.
func (e *Engine) State() State { return e.state }

// Start begins a session, discarding anything learned before.
func (e *Engine) Start() {
	for i := range e.acc {
		e.acc[i] = accumulator{max: maxInit, min: minInit}
	}
	e.count = 0
	e.started = false
	e.windows = 0
	e.state = Active
	e.logger.Info("calibration started", "channels", len(e.acc))
}

// Sample adds one scan of raw codes taken at now. It is a no-op while Idle.
func (e *Engine) Sample(raw []uint16, now time.Time) {
	if e.state != Active {
		return
	}
	if !e.started {
		e.windowStart = now
		e.started = true
	}
	if now.Sub(e.windowStart) >= e.cfg.SamplingInterval && e.count >= e.cfg.MinSampleCount {
		e.closeWindow()
		e.windowStart = now
	}
	for ch := range e.acc {
		e.acc[ch].sum += uint64(raw[ch])
	}
	e.count++
}

func (e *Engine) closeWindow() {
	n := uint64(e.count)
	for ch := range e.acc {
		a := &e.acc[ch]
		avg := uint16(a.sum / n)
		if avg > a.max {
			a.max = avg
		}
		if avg < a.min {
			a.min = avg
		}
		a.sum = 0
	}
	e.count = 0
	e.windows++
	e.logger.Debug("calibration window", "n", n, "max0", e.acc[0].max, "min0", e.acc[0].min)
}

// Limits returns the max and min window average seen so far on ch.
func (e *Engine) Limits(ch int) (max, min uint16) {
	return e.acc[ch].max, e.acc[ch].min
}

// Finish ends the session and returns s with thresholds updated for every
// channel that moved more than the noise floor. The engine goes back to Idle.
// Calling Finish while Idle returns s unchanged.
func (e *Engine) Finish(s settings.Settings) (settings.Settings, Report) {
	var rep Report
	if e.state != Active {
		return s, rep
	}
	if e.count >= e.cfg.MinSampleCount && e.count > 0 {
		e.closeWindow()
	}
	rep.Windows = e.windows

	for ch := range e.acc {
		a := e.acc[ch]
		var span uint16
		if a.max > a.min {
			span = a.max - a.min
		}
		if span <= e.cfg.MinimalDelta {
			rep.Skipped = append(rep.Skipped, ch)
			continue
		}
		s.Threshold[ch] = uint16((uint32(a.max) + uint32(a.min)) / 2)
		s.Span[ch] = span
		rep.Updated = append(rep.Updated, ch)
	}

	e.state = Idle
	e.acc = make([]accumulator, len(e.acc))
	e.logger.Info("calibration finished",
		"updated", len(rep.Updated),
		"skipped", len(rep.Skipped),
		"windows", rep.Windows)
	if len(rep.Skipped) > 0 {
		e.logger.Info("calibration kept previous thresholds", "channels", fmt.Sprint(rep.Skipped))
	}
	return s, rep
}

// Abort ends the session without producing thresholds.
func (e *Engine) Abort() {
	if e.state != Active {
		return
	}
	e.state = Idle
	e.acc = make([]accumulator, len(e.acc))
	e.logger.Info("calibration aborted")
}
