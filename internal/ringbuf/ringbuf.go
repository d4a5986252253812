// Package ringbuf implements the fixed-capacity byte FIFO used to stage the
// REPL stream on both sides of the radio link.
//
// Each buffer is single-producer/single-consumer: one side writes only the
// head index, the other writes only the tail index. The indices are atomics,
// so the event-dispatch goroutine and the runtime goroutine can share a
// buffer without a lock. One slot is sacrificed to disambiguate full from
// empty, so a buffer of capacity C holds at most C-1 bytes.
//
// Overflow policy is silent drop of the newest byte. A stalled reader shows
// up as truncated REPL output, never as a blocked writer.
package ringbuf

import "sync/atomic"

// DefaultCapacity fits one maximally-escaped 256-byte value printed in one
// go (1024 payload + 45 bytes of framing).
const DefaultCapacity = 1024 + 45

// Buffer is a fixed-capacity circular byte queue.
type Buffer struct {
	buf  []byte
	head atomic.Uint32 // next write index, owned by the producer
	tail atomic.Uint32 // next read index, owned by the consumer
}

// New returns an empty buffer. Capacities below 2 are raised to 2 so that
// at least one byte is usable.
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Put appends one byte. It reports false, dropping the byte, when the
// buffer is full. Never blocks.
func (b *Buffer) Put(v byte) bool {
	head := b.head.Load()
	next := head + 1
	if next == uint32(len(b.buf)) {
		next = 0
	}
	if next == b.tail.Load() {
		return false
	}
	b.buf[head] = v
	b.head.Store(next)
	return true
}

// Get removes and returns the oldest byte. The second result is false when
// the buffer is empty.
func (b *Buffer) Get() (byte, bool) {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return 0, false
	}
	next := tail + 1
	if next == uint32(len(b.buf)) {
		next = 0
	}
	v := b.buf[tail]
	b.tail.Store(next)
	return v, true
}

// Empty reports whether no bytes are queued.
func (b *Buffer) Empty() bool {
	return b.head.Load() == b.tail.Load()
}

// Len returns the number of queued bytes.
func (b *Buffer) Len() int {
	head := b.head.Load()
	tail := b.tail.Load()
	if head >= tail {
		return int(head - tail)
	}
	return len(b.buf) - int(tail-head)
}

// Cap returns the usable capacity, one less than the backing array.
func (b *Buffer) Cap() int {
	return len(b.buf) - 1
}
