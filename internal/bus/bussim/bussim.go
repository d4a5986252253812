// Package bussim provides in-memory stand-ins for the peripherals on the
// shared bus: a 4MiB NOR flash, the power controller's register file, and
// a capture device where the FPGA would sit.
package bussim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/bus"
)

// Flash geometry.
const (
	FlashBlockSize = 4096
	FlashBlocks    = 1024
	FlashPageSize  = 256
)

// SimBus routes transfers to the simulated peripherals.
type SimBus struct {
	log   *logrus.Entry
	flash *SimFlash
	pmic  *SimPMIC
	fpga  *SimFPGA
}

// Options configures the simulated bus.
type Options struct {
	// BusyPolls is how many status reads report the flash busy after an
	// erase or program before it settles.
	BusyPolls int

	Logger *logrus.Logger
}

func New(opts Options) *SimBus {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "bussim")

	b := &SimBus{
		log:   log,
		flash: newSimFlash(opts.BusyPolls),
		pmic:  newSimPMIC(),
		fpga:  &SimFPGA{},
	}
	return b
}

// Transfer implements bus.Bus.
func (b *SimBus) Transfer(tx, rx []byte, target bus.Target) error {
	b.log.WithFields(logrus.Fields{
		"target": target.String(),
		"tx":     len(tx),
		"rx":     len(rx),
	}).Trace("transfer")

	switch target {
	case bus.Flash:
		return b.flash.transfer(tx, rx)
	case bus.PMIC:
		return b.pmic.transfer(tx, rx)
	case bus.FPGA:
		return b.fpga.transfer(tx, rx)
	default:
		return fmt.Errorf("bussim: unknown target %d", int(target))
	}
}

// Flash returns the simulated flash for test inspection.
func (b *SimBus) Flash() *SimFlash { return b.flash }

// PMIC returns the simulated power controller for test inspection.
func (b *SimBus) PMIC() *SimPMIC { return b.pmic }

// FPGA returns the simulated FPGA for test inspection.
func (b *SimBus) FPGA() *SimFPGA { return b.fpga }

// SimFlash emulates the serial NOR part: deep sleep on power-up, a write
// enable latch, and busy status while an erase or program settles.
type SimFlash struct {
	mu        sync.Mutex
	mem       []byte
	asleep    bool
	wel       bool
	busyLeft  int
	busyPolls int
}

func newSimFlash(busyPolls int) *SimFlash {
	if busyPolls <= 0 {
		busyPolls = 1
	}
	mem := make([]byte, FlashBlocks*FlashBlockSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &SimFlash{mem: mem, asleep: true, busyPolls: busyPolls}
}

func (f *SimFlash) transfer(tx, rx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(tx) == 0 {
		return fmt.Errorf("bussim: flash transfer without a command byte")
	}
	cmd := tx[0]

	// In deep sleep only the release command is decoded.
	if f.asleep && cmd != 0xAB {
		return nil
	}

	switch cmd {
	case 0xAB: // release from deep sleep
		f.asleep = false

	case 0x66, 0x99: // reset enable, reset
		f.wel = false
		f.busyLeft = 0

	case 0xB9: // deep sleep
		f.asleep = true

	case 0x05: // read status register
		if len(rx) >= 2 {
			var status byte
			if f.busyLeft > 0 {
				status |= 0x01
				f.busyLeft--
			}
			if f.wel {
				status |= 0x02
			}
			rx[1] = status
		}

	case 0x06: // write enable
		f.wel = true

	case 0x60: // chip erase
		if !f.wel {
			break
		}
		f.wel = false
		for i := range f.mem {
			f.mem[i] = 0xFF
		}
		f.busyLeft = f.busyPolls

	case 0x20: // 4K block erase
		if !f.wel || len(tx) < 4 {
			break
		}
		f.wel = false
		addr := f.addr24(tx)
		for i := addr; i < addr+FlashBlockSize && i < len(f.mem); i++ {
			f.mem[i] = 0xFF
		}
		f.busyLeft = f.busyPolls

	case 0x03: // page read
		if len(tx) < 4 {
			break
		}
		addr := f.addr24(tx)
		for i := 4; i < len(rx); i++ {
			rx[i] = f.mem[addr+(i-4)]
		}

	case 0x02: // page program
		if !f.wel || len(tx) < 4 {
			break
		}
		f.wel = false
		addr := f.addr24(tx)
		for i, b := range tx[4:] {
			// NOR programming can only clear bits.
			f.mem[addr+i] &= b
		}
		f.busyLeft = f.busyPolls

	default:
		return fmt.Errorf("bussim: flash command 0x%02X not implemented", cmd)
	}
	return nil
}

func (f *SimFlash) addr24(tx []byte) int {
	return int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
}

// Asleep reports whether the part is in deep sleep.
func (f *SimFlash) Asleep() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asleep
}

// Page returns a copy of a 256-byte page.
func (f *SimFlash) Page(page int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, FlashPageSize)
	copy(out, f.mem[page*FlashPageSize:])
	return out
}

// SetPage writes a page directly, bypassing the command decoder.
func (f *SimFlash) SetPage(page int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.mem[page*FlashPageSize:(page+1)*FlashPageSize], data)
}

// SimPMIC is the power controller's register file. Register 0x14 holds
// the chip ID 0x7A out of reset.
type SimPMIC struct {
	mu   sync.Mutex
	regs [256]byte
}

func newSimPMIC() *SimPMIC {
	p := &SimPMIC{}
	p.regs[0x14] = 0x7A
	return p
}

func (p *SimPMIC) transfer(tx, rx []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case len(tx) == 1 && len(rx) == 1:
		rx[0] = p.regs[tx[0]]
	case len(tx) == 2 && len(rx) == 0:
		p.regs[tx[0]] = tx[1]
	default:
		return fmt.Errorf("bussim: pmic transfer shape tx=%d rx=%d", len(tx), len(rx))
	}
	return nil
}

// Reg reads a register directly.
func (p *SimPMIC) Reg(addr byte) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[addr]
}

// SetReg writes a register directly, bypassing the bus.
func (p *SimPMIC) SetReg(addr, value byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[addr] = value
}

// SimFPGA captures everything written over the bus and answers reads from
// a queued response, zero-filled once the queue runs dry.
type SimFPGA struct {
	mu      sync.Mutex
	written []byte
	pending []byte
}

func (f *SimFPGA) transfer(tx, rx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.written = append(f.written, tx...)
	for i := range rx {
		if len(f.pending) > 0 {
			rx[i] = f.pending[0]
			f.pending = f.pending[1:]
		} else {
			rx[i] = 0
		}
	}
	return nil
}

// Written returns everything sent to the FPGA so far.
func (f *SimFPGA) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.written))
	copy(out, f.written)
	return out
}

// QueueResponse arranges the next reads to return data.
func (f *SimFPGA) QueueResponse(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, data...)
}
