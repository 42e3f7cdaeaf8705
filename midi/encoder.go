package midi

import (
	"errors"
	"fmt"
	"log/slog"

	gomidi "gitlab.com/gomidi/midi/v2"
)

var (
	// ErrQueueFull means the message did not fit; the queue was left unchanged.
	ErrQueueFull = errors.New("midi queue full")

	// ErrNoteRange means base note + key index is above 127.
	ErrNoteRange = errors.New("note number out of range")

	// ErrChannelRange means the MIDI channel is above 15.
	ErrChannelRange = errors.New("midi channel out of range")
)

// Encoder builds 3-byte channel voice messages and commits each one to the
// queue in a single TryEnqueue.
type Encoder struct {
	q      *Queue
	logger *slog.Logger
}

// NewEncoder returns an encoder writing to q.
func NewEncoder(q *Queue, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{q: q, logger: logger}
}

// NoteOn enqueues 0x90|ch, base+key, vel. Velocity is clamped to 0..127.
func (e *Encoder) NoteOn(ch, base uint8, key int, vel int) error {
	note, err := noteNumber(ch, base, key)
	if err != nil {
		return err
	}
	if vel < 0 {
		vel = 0
	} else if vel > 127 {
		vel = 127
	}
	return e.commit(gomidi.NoteOn(ch, note, uint8(vel)))
}

// NoteOff enqueues 0x80|ch, base+key, 0.
func (e *Encoder) NoteOff(ch, base uint8, key int) error {
	note, err := noteNumber(ch, base, key)
	if err != nil {
		return err
	}
	return e.commit(gomidi.NoteOff(ch, note))
}

func (e *Encoder) commit(msg gomidi.Message) error {
	if !e.q.TryEnqueue(msg) {
		return fmt.Errorf("enqueue %s: %w", msg.String(), ErrQueueFull)
	}
	e.logger.Debug("midi enqueued", "msg", msg.String())
	return nil
}

func noteNumber(ch, base uint8, key int) (uint8, error) {
	if ch > 15 {
		return 0, fmt.Errorf("channel %d: %w", ch, ErrChannelRange)
	}
	n := int(base) + key
	if key < 0 || n > 127 {
		return 0, fmt.Errorf("base %d + key %d: %w", base, key, ErrNoteRange)
	}
	return uint8(n), nil
}
