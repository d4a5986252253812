// Package fpga controls the iCE40 on the shared bus: reset and run via
// the reset pin, configuration tracking on the done pin, and raw SPI
// access once the bitstream is running.
package fpga

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/bus"
	"github.com/silwitch/replink/internal/machine/gpio"
)

// Pin assignments.
const (
	DonePin  = 16
	ResetPin = 20
)

// State is the configuration state of the FPGA.
type State int

const (
	StateReset State = iota
	StateConfiguring
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "FPGA_RESET"
	case StateConfiguring:
		return "FPGA_CONFIGURING"
	case StateRunning:
		return "FPGA_RUNNING"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Driver owns the FPGA control pins and its slice of the SPI bus.
type Driver struct {
	bus  bus.Bus
	pins gpio.Controller
	log  *logrus.Entry

	mu         sync.Mutex
	state      State
	irq        func(level int)
	irqEnabled bool
}

func New(b bus.Bus, pins gpio.Controller, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{
		bus:   b,
		pins:  pins,
		log:   logger.WithField("component", "fpga"),
		state: StateReset,
	}
}

// Init configures the reset pin and arms the done pin edge handler. The
// done pin doubles as a user interrupt line once the bitstream runs.
func (d *Driver) Init() {
	d.pins.Configure(ResetPin, gpio.Config{Dir: gpio.Output})
	d.pins.Configure(DonePin, gpio.Config{Dir: gpio.Input, Pull: gpio.PullUp})
	d.pins.Watch(DonePin, d.donePinEdge)
}

func (d *Driver) donePinEdge(level int) {
	d.mu.Lock()

	// Edges during reset mean nothing.
	if d.state == StateReset {
		d.mu.Unlock()
		return
	}

	if d.state == StateConfiguring {
		// A rising done pin marks the end of configuration.
		if level == 1 {
			d.state = StateRunning
			d.log.Debug("configuration done")
		}
		d.mu.Unlock()
		return
	}

	handler := d.irq
	enabled := d.irqEnabled
	d.mu.Unlock()

	if enabled && handler != nil {
		handler(level)
	}
}

// Run releases the reset pin and starts configuration from flash.
func (d *Driver) Run() {
	d.pins.Write(ResetPin, 1)
	d.mu.Lock()
	d.state = StateConfiguring
	d.mu.Unlock()
}

// Reset holds the FPGA in reset.
func (d *Driver) Reset() {
	d.pins.Write(ResetPin, 0)
	d.mu.Lock()
	d.state = StateReset
	d.mu.Unlock()
}

// Status returns the current configuration state.
func (d *Driver) Status() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IRQ installs a done pin edge handler, active while the FPGA runs. The
// handler receives the pin level after the edge.
func (d *Driver) IRQ(handler func(level int)) {
	d.mu.Lock()
	d.irq = handler
	d.irqEnabled = true
	d.mu.Unlock()
}

// IRQDisable stops done pin callbacks without removing the handler.
func (d *Driver) IRQDisable() {
	d.mu.Lock()
	d.irqEnabled = false
	d.mu.Unlock()
}

// Read fills buf from the FPGA.
func (d *Driver) Read(buf []byte) error {
	return d.bus.Transfer(nil, buf, bus.FPGA)
}

// Write sends buf to the FPGA.
func (d *Driver) Write(buf []byte) error {
	return d.bus.Transfer(buf, nil, bus.FPGA)
}

// ReadWrite exchanges data with the FPGA in one full-duplex transfer.
func (d *Driver) ReadWrite(rx, tx []byte) error {
	return d.bus.Transfer(tx, rx, bus.FPGA)
}
