package calibration

import (
	"testing"
	"time"

	"hallmidi/settings"
)

func newTestEngine(t *testing.T, channels int) *Engine {
	t.Helper()
	return New(channels, DefaultConfig(), nil)
}

// run feeds samples every step for total, using gen to produce each scan.
func run(e *Engine, start time.Time, step, total time.Duration, gen func(elapsed time.Duration) []uint16) {
	for d := time.Duration(0); d < total; d += step {
		e.Sample(gen(d), start.Add(d))
	}
}

func TestEngine_OscillatingAndFlatChannels(t *testing.T) {
	e := newTestEngine(t, 2)

	prev := settings.Defaults()
	prev.Threshold[1] = 1234
	prev.Span[1] = 321

	e.Start()
	start := time.Unix(1000, 0)
	run(e, start, 10*time.Millisecond, time.Second, func(d time.Duration) []uint16 {
		a := uint16(100)
		if (d/(100*time.Millisecond))%2 == 1 {
			a = 900
		}
		return []uint16{a, 300}
	})

	got, rep := e.Finish(prev)

	if got.Threshold[0] != 500 || got.Span[0] != 800 {
		t.Fatalf("channel A: threshold=%d span=%d, want 500/800", got.Threshold[0], got.Span[0])
	}
	if got.Threshold[1] != 1234 || got.Span[1] != 321 {
		t.Fatalf("channel B changed: threshold=%d span=%d", got.Threshold[1], got.Span[1])
	}
	if len(rep.Updated) != 1 || rep.Updated[0] != 0 {
		t.Fatalf("updated = %v, want [0]", rep.Updated)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0] != 1 {
		t.Fatalf("skipped = %v, want [1]", rep.Skipped)
	}
	if e.State() != Idle {
		t.Fatalf("expected idle after finish, got %s", e.State())
	}
}

func TestEngine_FinishKeepsLowSpanBitForBit(t *testing.T) {
	e := newTestEngine(t, 3)

	prev := settings.Defaults()
	for ch := 0; ch < 3; ch++ {
		prev.Threshold[ch] = uint16(1000 + ch)
		prev.Span[ch] = uint16(400 + ch)
	}

	e.Start()
	start := time.Unix(0, 0)
	// Channel 0 moves exactly the noise floor (200), 1 slightly less, 2 not at all.
	run(e, start, 25*time.Millisecond, 2*time.Second, func(d time.Duration) []uint16 {
		if (d/(200*time.Millisecond))%2 == 1 {
			return []uint16{1200, 1150, 700}
		}
		return []uint16{1000, 1000, 700}
	})

	got, rep := e.Finish(prev)
	if got != prev {
		t.Fatalf("expected settings unchanged, got thresholds %v spans %v", got.Threshold[:3], got.Span[:3])
	}
	if len(rep.Updated) != 0 {
		t.Fatalf("expected no updates, got %v", rep.Updated)
	}
}

func TestEngine_WindowAveraging(t *testing.T) {
	e := New(1, Config{SamplingInterval: 100 * time.Millisecond, MinSampleCount: 2, MinimalDelta: 10}, nil)
	e.Start()
	start := time.Unix(0, 0)

	// First window: 100 and 300 average to 200.
	e.Sample([]uint16{100}, start)
	e.Sample([]uint16{300}, start.Add(50*time.Millisecond))
	// Interval elapsed with 2 samples: window closes before this one counts.
	e.Sample([]uint16{1000}, start.Add(100*time.Millisecond))

	max, min := e.Limits(0)
	if max != 200 || min != 200 {
		t.Fatalf("after first window max=%d min=%d, want 200/200", max, min)
	}

	got, rep := e.Finish(settings.Defaults())
	// The pending window holds a single sample, below MinSampleCount.
	if rep.Windows != 1 {
		t.Fatalf("windows = %d, want 1", rep.Windows)
	}
	if got != settings.Defaults() {
		t.Fatalf("expected defaults: pending window with too few samples should be ignored")
	}
}

func TestEngine_MinSampleCountDelaysWindow(t *testing.T) {
	e := New(1, Config{SamplingInterval: 10 * time.Millisecond, MinSampleCount: 3, MinimalDelta: 0}, nil)
	e.Start()
	start := time.Unix(0, 0)

	e.Sample([]uint16{100}, start)
	e.Sample([]uint16{100}, start.Add(50*time.Millisecond))
	if max, _ := e.Limits(0); max != 0 {
		t.Fatalf("window closed with only 2 samples (max=%d)", max)
	}
	e.Sample([]uint16{100}, start.Add(60*time.Millisecond))
	e.Sample([]uint16{400}, start.Add(70*time.Millisecond))
	if max, min := e.Limits(0); max != 100 || min != 100 {
		t.Fatalf("max=%d min=%d, want 100/100", max, min)
	}
}

func TestEngine_IdleIgnoresSamples(t *testing.T) {
	e := newTestEngine(t, 1)
	e.Sample([]uint16{4000}, time.Unix(0, 0))

	s := settings.Defaults()
	got, rep := e.Finish(s)
	if got != s || len(rep.Updated) != 0 || len(rep.Skipped) != 0 {
		t.Fatalf("finish while idle changed something: %+v", rep)
	}
}

func TestEngine_Abort(t *testing.T) {
	e := newTestEngine(t, 1)
	e.Start()
	run(e, time.Unix(0, 0), 10*time.Millisecond, time.Second, func(d time.Duration) []uint16 {
		return []uint16{uint16(d / time.Millisecond)}
	})
	e.Abort()
	if e.State() != Idle {
		t.Fatalf("expected idle after abort")
	}
	s := settings.Defaults()
	if got, _ := e.Finish(s); got != s {
		t.Fatalf("finish after abort must not change settings")
	}
}
