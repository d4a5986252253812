// Package pin exposes the two user GPIO pins, A1 and A2.
package pin

import (
	"fmt"

	"github.com/silwitch/replink/internal/machine/gpio"
)

// The only pins broken out to the user.
const (
	A1 = 4
	A2 = 5
)

// Mode is a pin direction.
type Mode = gpio.Dir

const (
	In  = gpio.Input
	Out = gpio.Output
)

// Config carries the optional pin settings.
type Config struct {
	Mode  Mode
	Pull  gpio.Pull
	Drive gpio.Drive
}

// Pin is one configured user pin.
type Pin struct {
	ctrl gpio.Controller
	num  int
}

// New configures a user pin. Only A1 and A2 exist.
func New(ctrl gpio.Controller, num int, cfg Config) (*Pin, error) {
	if num != A1 && num != A2 {
		return nil, fmt.Errorf("pin %d doesn't exist", num)
	}
	if cfg.Mode != In && cfg.Mode != Out {
		return nil, fmt.Errorf("pin: invalid pin mode")
	}
	if cfg.Pull < gpio.PullNone || cfg.Pull > gpio.PullUp {
		return nil, fmt.Errorf("pin: invalid pin pull direction")
	}
	if cfg.Drive < gpio.DriveS0S1 || cfg.Drive > gpio.DriveH0D1 {
		return nil, fmt.Errorf("pin: invalid drive mode")
	}

	ctrl.Configure(num, gpio.Config{Dir: cfg.Mode, Pull: cfg.Pull, Drive: cfg.Drive})
	return &Pin{ctrl: ctrl, num: num}, nil
}

// Read returns the pin level.
func (p *Pin) Read() int {
	return p.ctrl.Read(p.num)
}

// Write sets an output pin's level.
func (p *Pin) Write(level int) {
	p.ctrl.Write(p.num, level)
}

// High drives the pin high.
func (p *Pin) High() { p.Write(1) }

// Low drives the pin low.
func (p *Pin) Low() { p.Write(0) }

// IRQ installs an edge callback, fired on both edges.
func (p *Pin) IRQ(fn func()) {
	p.ctrl.Watch(p.num, func(int) { fn() })
}

// IRQDisable removes the edge callback.
func (p *Pin) IRQDisable() {
	p.ctrl.Unwatch(p.num)
}
