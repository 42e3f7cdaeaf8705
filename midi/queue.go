package midi

import (
	"context"
	"errors"
	"sync"
)

// ErrMessageTooLarge is returned by BlockingEnqueue when a message can never fit.
var ErrMessageTooLarge = errors.New("message larger than queue capacity")

// Queue is the bounded byte FIFO between the producers (key scanning, MIDI in)
// and the single transmitter.
//
// Every operation holds mu for the whole message, so a consumer never observes
// a partially written message.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf  []byte
	head int // next byte to dequeue
	n    int // bytes stored

	// notify is signalled (non-blocking) after every successful enqueue so the
	// transmitter can sleep without polling.
	notify chan struct{}
}

// NewQueue creates a queue holding at most capacity bytes.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		buf:    make([]byte, capacity),
		notify: make(chan struct{}, 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Cap returns the fixed capacity in bytes.
func (q *Queue) Cap() int { return len(q.buf) }

// Len returns the number of queued bytes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Free returns the number of bytes that can be enqueued right now.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.n
}

// TryEnqueue appends all of b, or nothing if there is not enough room.
func (q *Queue) TryEnqueue(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	q.mu.Lock()
	if len(q.buf)-q.n < len(b) {
		q.mu.Unlock()
		return false
	}
	q.put(b)
	q.mu.Unlock()
	q.signal()
	return true
}

// BlockingEnqueue waits until b fits and then appends it in one step.
// It returns ctx.Err() if ctx is canceled first.
func (q *Queue) BlockingEnqueue(ctx context.Context, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if len(b) > len(q.buf) {
		return ErrMessageTooLarge
	}

	// Wake the waiter on cancellation; Cond has no context support.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	for len(q.buf)-q.n < len(b) {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			return err
		}
		q.cond.Wait()
	}
	q.put(b)
	q.mu.Unlock()
	q.signal()
	return nil
}

// TryDequeue removes and returns the oldest byte.
func (q *Queue) TryDequeue() (byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return 0, false
	}
	b := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	q.cond.Broadcast()
	return b, true
}

// Drain moves up to len(dst) bytes into dst and returns how many were copied.
func (q *Queue) Drain(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for count < len(dst) && q.n > 0 {
		dst[count] = q.buf[q.head]
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		count++
	}
	if count > 0 {
		q.cond.Broadcast()
	}
	return count
}

// Ready returns a channel that receives a value after bytes were enqueued.
func (q *Queue) Ready() <-chan struct{} { return q.notify }

// put writes b at the tail. Caller holds mu and has checked capacity.
func (q *Queue) put(b []byte) {
	tail := (q.head + q.n) % len(q.buf)
	for _, c := range b {
		q.buf[tail] = c
		tail = (tail + 1) % len(q.buf)
	}
	q.n += len(b)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
