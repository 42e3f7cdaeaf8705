package midi

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// snapshot copies the queued bytes in FIFO order without consuming them.
func snapshot(q *Queue) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]byte, q.n)
	for i := 0; i < q.n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

func drainAll(q *Queue) []byte {
	var out []byte
	for {
		b, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestQueue_TryEnqueueAllOrNothing(t *testing.T) {
	q := NewQueue(4)

	if !q.TryEnqueue([]byte{1, 2}) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if q.TryEnqueue([]byte{3, 4, 5}) {
		t.Fatalf("expected enqueue of 3 bytes into 2 free slots to fail")
	}
	if got := snapshot(q); !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("queue changed after failed enqueue: got % X", got)
	}
	if q.Free() != 2 || q.Len() != 2 {
		t.Fatalf("expected len=2 free=2, got len=%d free=%d", q.Len(), q.Free())
	}
}

func TestQueue_FIFOAcrossWrap(t *testing.T) {
	q := NewQueue(4)

	q.TryEnqueue([]byte{1, 2, 3})
	if b, _ := q.TryDequeue(); b != 1 {
		t.Fatalf("expected 1, got %d", b)
	}
	if b, _ := q.TryDequeue(); b != 2 {
		t.Fatalf("expected 2, got %d", b)
	}
	// tail wraps around the end of the buffer
	if !q.TryEnqueue([]byte{4, 5, 6}) {
		t.Fatalf("expected wrapped enqueue to succeed")
	}
	if got := drainAll(q); !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Fatalf("got % X, want 03 04 05 06", got)
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue(8)
	q.TryEnqueue([]byte{0x90, 0x40, 0x7F})
	q.TryEnqueue([]byte{0x80, 0x40, 0x00})

	dst := make([]byte, 4)
	n := q.Drain(dst)
	if n != 4 || !bytes.Equal(dst, []byte{0x90, 0x40, 0x7F, 0x80}) {
		t.Fatalf("first drain got %d % X", n, dst[:n])
	}
	n = q.Drain(dst)
	if n != 2 || !bytes.Equal(dst[:n], []byte{0x40, 0x00}) {
		t.Fatalf("second drain got %d % X", n, dst[:n])
	}
}

func TestQueue_BlockingEnqueueWaitsForSpace(t *testing.T) {
	q := NewQueue(3)
	q.TryEnqueue([]byte{1, 2, 3})

	done := make(chan error, 1)
	go func() {
		done <- q.BlockingEnqueue(context.Background(), []byte{4, 5})
	}()

	select {
	case err := <-done:
		t.Fatalf("enqueue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	q.TryDequeue()
	q.TryDequeue()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for blocked enqueue")
	}
	if got := drainAll(q); !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Fatalf("got % X, want 03 04 05", got)
	}
}

func TestQueue_BlockingEnqueueCanceled(t *testing.T) {
	q := NewQueue(2)
	q.TryEnqueue([]byte{1, 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.BlockingEnqueue(ctx, []byte{3})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for canceled enqueue")
	}
	if got := snapshot(q); !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("queue changed after canceled enqueue: % X", got)
	}
}

func TestQueue_BlockingEnqueueTooLarge(t *testing.T) {
	q := NewQueue(2)
	if err := q.BlockingEnqueue(context.Background(), []byte{1, 2, 3}); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

// Messages from concurrent producers must never interleave.
func TestQueue_ConcurrentProducersKeepMessagesIntact(t *testing.T) {
	q := NewQueue(3 * 200)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := q.BlockingEnqueue(context.Background(), []byte{tag, tag, tag}); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(byte(0x10 + p))
	}
	wg.Wait()

	got := drainAll(q)
	if len(got) != 600 {
		t.Fatalf("expected 600 bytes, got %d", len(got))
	}
	for i := 0; i < len(got); i += 3 {
		if got[i] != got[i+1] || got[i] != got[i+2] {
			t.Fatalf("interleaved message at %d: % X", i, got[i:i+3])
		}
	}
}

func TestQueue_ReadySignalled(t *testing.T) {
	q := NewQueue(4)
	q.TryEnqueue([]byte{1})
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected ready signal after enqueue")
	}
}
