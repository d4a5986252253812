// Package flash drives the serial NOR part on the shared SPI bus. The
// part powers up in deep sleep and is woken on demand before any erase,
// read or write.
package flash

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/bus"
)

// Geometry of the 4MiB part.
const (
	PageSize   = 256
	BlockSize  = 4096
	BlockCount = 1024
)

// Command opcodes.
const (
	opPageProgram = 0x02
	opPageRead    = 0x03
	opReadStatus  = 0x05
	opWriteEnable = 0x06
	opBlockErase  = 0x20
	opChipErase   = 0x60
	opResetEnable = 0x66
	opReset       = 0x99
	opRelease     = 0xAB
	opDeepSleep   = 0xB9
)

// Datasheet timings.
const (
	tRES1    = 3 * time.Microsecond
	tRST     = 30 * time.Microsecond
	tDP      = 2 * time.Microsecond
	busyPoll = time.Millisecond
)

// Driver talks to the flash. Not safe for concurrent use.
type Driver struct {
	bus    bus.Bus
	log    *logrus.Entry
	asleep bool
	delay  func(time.Duration)
}

func New(b bus.Bus, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{
		bus:    b,
		log:    logger.WithField("component", "flash"),
		asleep: true,
		delay:  time.Sleep,
	}
}

// Sleep puts the part into deep sleep.
func (d *Driver) Sleep() error {
	if err := d.bus.Transfer([]byte{opDeepSleep}, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash sleep: %w", err)
	}
	d.delay(tDP)
	d.asleep = true
	return nil
}

// wake releases the part from deep sleep and resets it.
func (d *Driver) wake() error {
	// Release command plus three dummy bytes.
	wakeSeq := []byte{opRelease, 0, 0, 0}
	if err := d.bus.Transfer(wakeSeq, make([]byte, 5), bus.Flash); err != nil {
		return fmt.Errorf("flash wake: %w", err)
	}
	d.delay(tRES1)

	if err := d.bus.Transfer([]byte{opResetEnable}, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash reset enable: %w", err)
	}
	if err := d.bus.Transfer([]byte{opReset}, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash reset: %w", err)
	}
	d.delay(tRST)

	d.asleep = false
	d.log.Debug("flash awake")
	return nil
}

func (d *Driver) wakeIfNeeded() error {
	if !d.asleep {
		return nil
	}
	return d.wake()
}

// busy reads the status register and checks the write-in-progress bit.
func (d *Driver) busy() (bool, error) {
	rx := make([]byte, 2)
	if err := d.bus.Transfer([]byte{opReadStatus}, rx, bus.Flash); err != nil {
		return false, fmt.Errorf("flash status: %w", err)
	}
	return rx[1]&0x01 != 0, nil
}

func (d *Driver) waitIdle() error {
	for {
		busy, err := d.busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		d.delay(busyPoll)
	}
}

func (d *Driver) writeEnable() error {
	if err := d.bus.Transfer([]byte{opWriteEnable}, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash write enable: %w", err)
	}
	return nil
}

// EraseAll erases the whole part and blocks until it settles.
func (d *Driver) EraseAll() error {
	if err := d.wakeIfNeeded(); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.bus.Transfer([]byte{opChipErase}, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash chip erase: %w", err)
	}
	return d.waitIdle()
}

// EraseBlock erases one 4K block.
func (d *Driver) EraseBlock(block int) error {
	if block < 0 || block >= BlockCount {
		return fmt.Errorf("flash: block number must be less than %d", BlockCount)
	}
	if err := d.wakeIfNeeded(); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}

	addr := uint32(block) * BlockSize
	cmd := []byte{opBlockErase, byte(addr >> 16), byte(addr >> 8), 0x00}
	if err := d.bus.Transfer(cmd, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash block erase: %w", err)
	}
	return d.waitIdle()
}

// Read fills buf from a 256-byte page. len(buf) may not exceed PageSize.
func (d *Driver) Read(page int, buf []byte) error {
	if len(buf) > PageSize {
		return fmt.Errorf("flash: buffer cannot be bigger than %d bytes", PageSize)
	}
	if err := d.wakeIfNeeded(); err != nil {
		return err
	}

	addr := uint32(page) * PageSize
	cmd := []byte{opPageRead, byte(addr >> 16), byte(addr >> 8), 0x00}

	// The first four received bytes echo the command sequence.
	rx := make([]byte, len(cmd)+len(buf))
	if err := d.bus.Transfer(cmd, rx, bus.Flash); err != nil {
		return fmt.Errorf("flash read: %w", err)
	}
	copy(buf, rx[len(cmd):])
	return nil
}

// Write programs buf into a 256-byte page and blocks until it settles.
func (d *Driver) Write(page int, buf []byte) error {
	if len(buf) > PageSize {
		return fmt.Errorf("flash: buffer cannot be bigger than %d bytes", PageSize)
	}
	if err := d.wakeIfNeeded(); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}

	addr := uint32(page) * PageSize
	tx := make([]byte, 4, 4+len(buf))
	tx[0] = opPageProgram
	tx[1] = byte(addr >> 16)
	tx[2] = byte(addr >> 8)
	tx[3] = 0x00
	tx = append(tx, buf...)

	if err := d.bus.Transfer(tx, nil, bus.Flash); err != nil {
		return fmt.Errorf("flash write: %w", err)
	}
	return d.waitIdle()
}
