package transport

// Stream exposes the two primitives the language runtime consumes: a
// blocking single-byte pull and a non-blocking buffered push. It is the
// only place the firmware ever suspends.
type Stream struct {
	t *Transport
}

// Stream returns the runtime-facing adapter over this transport.
func (t *Transport) Stream() *Stream {
	return &Stream{t: t}
}

// PullByte returns the next inbound byte, blocking until one arrives.
//
// While waiting it drains pending output, so a REPL can print its prompt
// before the user has typed anything, and once both rings are empty it
// parks the processor on the stack's wait-for-event primitive. There is no
// timeout and no software cancellation; only link activity resumes it.
func (s *Stream) PullByte() byte {
	for {
		if b, ok := s.t.rx.Get(); ok {
			return b
		}
		s.t.Flush()
		if s.t.tx.Empty() && s.t.rx.Empty() {
			s.t.stack.WaitForEvent()
		}
	}
}

// PushBytes appends output to the TX ring. It never blocks and never
// fails: bytes beyond the ring's free capacity are dropped. Transmission
// happens later, from Flush or the pull loop.
func (s *Stream) PushBytes(p []byte) {
	for i, b := range p {
		if !s.t.tx.Put(b) {
			s.t.droppedOut.Add(uint64(len(p) - i))
			return
		}
	}
}

// Flush forces a drain of pending output.
func (s *Stream) Flush() {
	s.t.Flush()
}
