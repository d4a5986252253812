// Package firmware assembles the whole device: vendor stack, BLE
// transport, the shared peripheral bus with its drivers, and the demo
// console runtime on top of the transport stream.
package firmware

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/bus"
	"github.com/silwitch/replink/internal/bus/bussim"
	"github.com/silwitch/replink/internal/fault"
	"github.com/silwitch/replink/internal/groutine"
	"github.com/silwitch/replink/internal/machine/adc"
	"github.com/silwitch/replink/internal/machine/flash"
	"github.com/silwitch/replink/internal/machine/fpga"
	"github.com/silwitch/replink/internal/machine/gpio"
	"github.com/silwitch/replink/internal/machine/pmic"
	"github.com/silwitch/replink/internal/machine/rtc"
	"github.com/silwitch/replink/internal/repl"
	"github.com/silwitch/replink/internal/sd"
	"github.com/silwitch/replink/internal/transport"
)

// Options configures a Device. Stack is required; every other field has a
// simulated default so the binary can boot a complete device out of the box.
type Options struct {
	Stack     sd.Stack
	Transport transport.Config
	Bus       bus.Bus         // shared flash/FPGA/PMIC bus
	Pins      gpio.Controller // FPGA done and reset pins live here
	AMUX      adc.Source      // PMIC battery monitor input
	Logger    *logrus.Logger
}

// Device is one booted S1. Boot brings the radio and peripherals up,
// Run serves console sessions until the context ends.
type Device struct {
	log    *logrus.Entry
	stack  sd.Stack
	faults *fault.Handler

	tr     *transport.Transport
	stream *transport.Stream

	hw    repl.Hardware
	pins  gpio.Controller
	amux  adc.Source
	perif bus.Bus

	softResets atomic.Uint32
	hardResets atomic.Uint32
}

func New(opts Options) *Device {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	if opts.Bus == nil {
		opts.Bus = bussim.New(bussim.Options{Logger: logger})
	}
	if opts.Pins == nil {
		opts.Pins = gpio.NewSim()
	}
	if opts.AMUX == nil {
		// AMUX presents battery volts scaled by the 0.272 monitor gain.
		src := adc.NewSimSource()
		src.Set(adc.InputAMUX, 3.9*0.272)
		opts.AMUX = src
	}

	d := &Device{
		log:   logger.WithField("component", "firmware"),
		stack: opts.Stack,
		pins:  opts.Pins,
		amux:  opts.AMUX,
		perif: opts.Bus,
	}
	d.faults = fault.NewHandler(logger, d.systemReset)
	d.tr = transport.New(opts.Stack, opts.Transport, logger, d.faults)
	d.stream = d.tr.Stream()

	// Drivers see bus errors as usual, but a broken peripheral bus is
	// fatal on real hardware, so failures also trip the fault handler.
	perif := faultBus{inner: opts.Bus, faults: d.faults}
	d.hw = repl.Hardware{
		Flash: flash.New(perif, logger),
		FPGA:  fpga.New(perif, opts.Pins, logger),
		PMIC:  pmic.New(perif, opts.AMUX, logger),
		Clock: rtc.New(rtc.Options{Wait: opts.Stack.WaitForEvent}),
	}
	return d
}

type faultBus struct {
	inner  bus.Bus
	faults *fault.Handler
}

func (b faultBus) Transfer(tx, rx []byte, target bus.Target) error {
	err := b.inner.Transfer(tx, rx, target)
	b.faults.Checkf(err, "bus transfer")
	return err
}

// Boot performs the power-on sequence: BLE first, then the peripherals,
// in the same order the board brings them up.
func (d *Device) Boot() error {
	if err := d.tr.Start(); err != nil {
		return fmt.Errorf("ble init: %w", err)
	}

	if err := d.hw.PMIC.Init(); err != nil {
		return fmt.Errorf("hardware init: %w", err)
	}
	if err := d.hw.PMIC.EnableBatteryMeasurement(true); err != nil {
		return fmt.Errorf("hardware init: %w", err)
	}
	d.hw.FPGA.Init()

	d.log.WithField("name", transport.DeviceName("S1", d.stack.DeviceAddress())).
		Info("device booted")
	return nil
}

// Run drives the event pump and serves console sessions. A console reset
// (Ctrl-D) starts a fresh session, like the original soft-reset loop; Run
// returns only when ctx ends.
func (d *Device) Run(ctx context.Context) {
	groutine.Go(ctx, "transport-pump", d.tr.Run)

	done := make(chan struct{})
	groutine.Go(ctx, "console", func(ctx context.Context) {
		defer close(done)
		for ctx.Err() == nil {
			shell := repl.New(d.stream, d.hw, d.log.Logger, func() {
				d.softResets.Add(1)
			})
			shell.Run()
			d.log.Info("soft reset")
		}
	})

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// systemReset is the fault handler's reset hook. Real hardware reboots
// here; the simulation records it and keeps the process alive.
func (d *Device) systemReset(code uint32) {
	d.hardResets.Add(1)
	d.log.WithField("code", fmt.Sprintf("0x%08X", code)).Error("system reset")
}

// Stream is the console-facing byte pipe, for bridging to a terminal.
func (d *Device) Stream() *transport.Stream { return d.stream }

// Transport exposes the link state machine, mostly for status output.
func (d *Device) Transport() *transport.Transport { return d.tr }

// Hardware exposes the booted drivers.
func (d *Device) Hardware() repl.Hardware { return d.hw }

// SoftResets counts console-requested resets.
func (d *Device) SoftResets() uint32 { return d.softResets.Load() }

// HardResets counts fault-driven resets.
func (d *Device) HardResets() uint32 { return d.hardResets.Load() }
