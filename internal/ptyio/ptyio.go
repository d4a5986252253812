// Package ptyio exposes the device's REPL stream as a pseudo-terminal.
// The slave side is handed to the user (any serial terminal can open it);
// the master side is pumped by background goroutines through ring
// buffers, so neither direction ever blocks the device loop.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/silwitch/replink/internal/groutine"
)

// InputFunc receives bytes typed into the terminal. It runs on a
// background goroutine and must not retain the slice.
type InputFunc func(data []byte)

// Options configures the port.
type Options struct {
	// ReadCap and WriteCap size the two ring buffers. Zero means 4096.
	ReadCap  int
	WriteCap int

	// PollTimeout bounds how long the pump goroutines wait for IO
	// readiness before rechecking the context. Zero means 50ms.
	PollTimeout time.Duration

	Logger *logrus.Logger
}

// Stats carries the pump counters.
type Stats struct {
	ReadBytes    uint64
	WriteBytes   uint64
	DroppedRead  uint64
	DroppedWrite uint64
}

// Port is one side of a PTY pair wired to the REPL stream.
type Port struct {
	log     *logrus.Entry
	master  *os.File
	slave   *os.File
	ttyName string

	pollTimeout time.Duration

	readBuf  *ringbuffer.RingBuffer // bytes typed into the terminal
	writeBuf *ringbuffer.RingBuffer // bytes headed to the terminal

	input      atomic.Value // InputFunc
	readNotify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
	droppedRead  atomic.Uint64
	droppedWrite atomic.Uint64
}

// Open creates the PTY pair, puts the slave into raw mode, and starts
// the pump goroutines.
func Open(opts Options) (*Port, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.ReadCap <= 0 {
		opts.ReadCap = 4096
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = 4096
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 50 * time.Millisecond
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptyio: open pair: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("ptyio: raw mode on %s: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("ptyio: nonblocking master: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		log:         logger.WithField("component", "ptyio"),
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: opts.PollTimeout,
		readBuf:     ringbuffer.New(opts.ReadCap),
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readNotify:  make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-pump", func(context.Context) { p.readPump() })
	groutine.Go(ctx, "pty-write-pump", func(context.Context) { p.writePump() })
	groutine.Go(ctx, "pty-input-dispatch", func(context.Context) { p.dispatch() })

	p.log.WithField("tty", p.ttyName).Info("terminal ready")
	return p, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (p *Port) TTYName() string {
	return p.ttyName
}

// OnInput installs the handler for typed bytes. Pass nil to detach.
func (p *Port) OnInput(fn InputFunc) {
	if p.closed.Load() {
		return
	}
	p.input.Store(fn)
	select {
	case p.readNotify <- struct{}{}:
	default:
	}
}

// Write queues data for the terminal. Never blocks; when the ring is
// full the overflow is dropped and counted.
func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, fmt.Errorf("ptyio: queue write: %w", err)
	}
	if n < len(data) {
		dropped := len(data) - n
		p.droppedWrite.Add(uint64(dropped))
		p.log.WithField("dropped", dropped).Warn("terminal write overflow")
	}
	return n, nil
}

// Stats returns the pump counters.
func (p *Port) Stats() Stats {
	return Stats{
		ReadBytes:    p.readBytes.Load(),
		WriteBytes:   p.writeBytes.Load(),
		DroppedRead:  p.droppedRead.Load(),
		DroppedWrite: p.droppedWrite.Load(),
	}
}

// Close stops the pumps and closes both ends of the pair.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.master.Close()
	p.slave.Close()

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.log.Error("pump goroutines did not exit in time")
	}
	return nil
}

// readPump moves typed bytes from the master into the read ring.
func (p *Port) readPump() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	timeoutMs := int(p.pollTimeout.Milliseconds())

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		ready, err := unix.Poll(fds, timeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.log.WithError(err).Warn("read poll")
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, _ := p.readBuf.Write(buf[:n])
			if written < n {
				p.droppedRead.Add(uint64(n - written))
			}
			p.readBytes.Add(uint64(written))
			if written > 0 {
				select {
				case p.readNotify <- struct{}{}:
				default:
				}
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
				return
			default:
				p.log.WithError(err).Warn("read pump exiting")
				return
			}
		}
	}
}

// writePump drains the write ring into the master.
func (p *Port) writePump() {
	defer p.wg.Done()

	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	timeoutMs := int(p.pollTimeout.Milliseconds())

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			if _, err := unix.Poll(fds, timeoutMs); err != nil && !errors.Is(err, syscall.EINTR) {
				p.log.WithError(err).Warn("write poll")
			}
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			continue
		}

		offset := 0
		for offset < n {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				p.writeBytes.Add(uint64(written))
			}
			if err != nil {
				switch {
				case errors.Is(err, syscall.EINTR):
				case errors.Is(err, syscall.EAGAIN):
					if _, pollErr := unix.Poll(fds, timeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
						p.log.WithError(pollErr).Warn("write poll")
					}
				case errors.Is(err, syscall.EBADF):
					return
				default:
					p.log.WithError(err).Warn("write pump exiting")
					return
				}
			}
		}
	}
}

// dispatch hands buffered input to the installed handler in chunks.
func (p *Port) dispatch() {
	defer p.wg.Done()

	tmp := make([]byte, 4096)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for {
			fn, _ := p.input.Load().(InputFunc)
			if fn == nil {
				break
			}
			n, err := p.readBuf.TryRead(tmp)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			chunk := make([]byte, n)
			copy(chunk, tmp[:n])
			fn(chunk)
		}
	}
}
