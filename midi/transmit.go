package midi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const (
	defaultBatchSize    = 64
	defaultPollInterval = 5 * time.Millisecond
)

// Transmitter is the consumer side of a Queue. It moves queued bytes to a
// sink such as a serial port, in FIFO order.
type Transmitter struct {
	q      *Queue
	logger *slog.Logger

	batch []byte
	poll  time.Duration

	written uint64
}

// NewTransmitter returns a transmitter draining q in batches of at most
// batchSize bytes.
func NewTransmitter(q *Queue, batchSize int, logger *slog.Logger) *Transmitter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		q:      q,
		logger: logger,
		batch:  make([]byte, batchSize),
		poll:   defaultPollInterval,
	}
}

// Written returns the number of bytes handed to the sink so far.
// Only meaningful after Run returned.
func (t *Transmitter) Written() uint64 { return t.written }

// Run drains the queue into w until ctx is canceled or a write fails.
// Bytes still queued at cancellation are flushed once before returning.
func (t *Transmitter) Run(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		if err := t.flush(w); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			if err := t.flush(w); err != nil {
				t.logger.Warn("midi out: final flush failed", "error", err)
			}
			return nil
		case <-t.q.Ready():
		case <-ticker.C:
		}
	}
}

func (t *Transmitter) flush(w io.Writer) error {
	for {
		n := t.q.Drain(t.batch)
		if n == 0 {
			return nil
		}
		if _, err := w.Write(t.batch[:n]); err != nil {
			return fmt.Errorf("midi out write: %w", err)
		}
		t.written += uint64(n)
		t.logger.Debug("midi out", "bytes", n, "data", fmt.Sprintf("% X", t.batch[:n]))
	}
}
