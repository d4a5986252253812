package bussim

import (
	"sync"

	"github.com/silwitch/replink/internal/bus"
)

// Frame is one recorded transfer.
type Frame struct {
	Target bus.Target
	TX     []byte
	RXLen  int
}

// Recorder wraps a bus and keeps every frame that crosses it, so driver
// tests can assert on exact command framing.
type Recorder struct {
	Inner bus.Bus

	mu     sync.Mutex
	frames []Frame
}

// Record wraps inner in a Recorder.
func Record(inner bus.Bus) *Recorder {
	return &Recorder{Inner: inner}
}

// Transfer implements bus.Bus.
func (r *Recorder) Transfer(tx, rx []byte, target bus.Target) error {
	frame := Frame{Target: target, TX: append([]byte(nil), tx...), RXLen: len(rx)}
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()

	if r.Inner == nil {
		return nil
	}
	return r.Inner.Transfer(tx, rx, target)
}

// Frames returns the recorded transfers in order.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}
