package keys

// Filter is a moving average over the last W raw codes of one channel.
type Filter struct {
	buf  []uint16
	idx  int
	seen int
	sum  uint32
}

// NewFilter returns a filter with the given window (at least 1).
func NewFilter(window int) *Filter {
	if window < 1 {
		window = 1
	}
	return &Filter{buf: make([]uint16, window)}
}

// Add pushes raw and returns the rounded mean of the samples in the window.
// Before the window has filled, the mean is over the samples seen so far.
func (f *Filter) Add(raw uint16) uint16 {
	f.sum -= uint32(f.buf[f.idx])
	f.buf[f.idx] = raw
	f.sum += uint32(raw)
	f.idx = (f.idx + 1) % len(f.buf)
	if f.seen < len(f.buf) {
		f.seen++
	}
	n := uint32(f.seen)
	return uint16((f.sum + n/2) / n)
}

// Reset forgets all samples.
func (f *Filter) Reset() {
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.idx, f.seen, f.sum = 0, 0, 0
}

// Window returns W.
func (f *Filter) Window() int { return len(f.buf) }
