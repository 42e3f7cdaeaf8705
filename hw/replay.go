package hw

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ReplayScanner plays back a capture file: one row per scan, one
// ';'-separated column per channel. It is used for bench runs without the
// sensor board.
type ReplayScanner struct {
	mu   sync.Mutex
	rows [][]uint16
	idx  int
	loop bool
}

// ParseCapture reads a capture. Blank lines are skipped; decimal values are
// rounded and clamped to 0..65535.
func ParseCapture(r io.Reader) ([][]uint16, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]uint16
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", line, err)
		}
		row := make([]uint16, 0, len(rec))
		for col, field := range rec {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			f, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("capture line %d column %d: %w", line, col+1, err)
			}
			row = append(row, uint16(math.Max(0, math.Min(65535, math.Round(f)))))
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, errors.New("capture is empty")
	}
	return rows, nil
}

// NewReplayScanner replays rows. With loop set it restarts at the first row,
// otherwise it keeps returning the last one.
func NewReplayScanner(rows [][]uint16, loop bool) *ReplayScanner {
	return &ReplayScanner{rows: rows, loop: loop}
}

// OpenReplayScanner loads a capture file.
func OpenReplayScanner(path string, loop bool) (*ReplayScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	rows, err := ParseCapture(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplayScanner(rows, loop), nil
}

// Rows returns the number of rows in the capture.
func (s *ReplayScanner) Rows() int { return len(s.rows) }

func (s *ReplayScanner) ReadAll(dst []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.idx
	row := s.rows[n]
	// Move on before validating so a short row is skipped, not repeated.
	switch {
	case s.idx+1 < len(s.rows):
		s.idx++
	case s.loop:
		s.idx = 0
	}

	if len(row) < len(dst) {
		return fmt.Errorf("capture row %d has %d columns, %d channels configured", n+1, len(row), len(dst))
	}
	copy(dst, row)
	return nil
}

func (s *ReplayScanner) Close() error { return nil }
