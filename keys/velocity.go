package keys

const (
	MinVelocity = 1
	MaxVelocity = 127
)

// Velocity maps the captured press waveform to a MIDI velocity in [1,127].
//
// Each captured sample contributes its distance from the released reference
// in the pressing direction. The sum is normalized by len(capture) times the
// distance from released to on. A key that crossed the on threshold within a
// few scans leaves most of the window at the released reference and plays
// loud; a slow press fills the window and plays soft. The curve is linear
// and inverted: more travel in the window means a lower velocity.
//
// capture must not contain the sample that crossed on, which is a full span
// away by definition; Key.Update calls this before recording it.
func Velocity(capture []uint16, released, on int) int {
	span := on - released
	dir := 1
	if span < 0 {
		dir, span = -1, -span
	}
	if span == 0 || len(capture) == 0 {
		return MaxVelocity
	}

	var dev int64
	for _, s := range capture {
		d := dir * (int(s) - released)
		if d > 0 {
			dev += int64(d)
		}
	}

	full := int64(len(capture)) * int64(span)
	if dev > full {
		dev = full
	}

	// 1 + round((1 - dev/full) * 126)
	v := MinVelocity + int(((full-dev)*(MaxVelocity-MinVelocity)+full/2)/full)
	if v < MinVelocity {
		v = MinVelocity
	}
	if v > MaxVelocity {
		v = MaxVelocity
	}
	return v
}
