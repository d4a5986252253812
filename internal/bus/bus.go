// Package bus abstracts the shared peripheral interconnect: a SPI pair
// (flash and FPGA, one select line each) and an I2C power controller.
package bus

import "fmt"

// Target selects which peripheral a transfer talks to.
type Target int

const (
	// FPGA shares the SPI bus with the flash but drives its select
	// line active-high.
	FPGA Target = iota
	Flash
	// PMIC sits on a separate I2C bus at address 0x48.
	PMIC
)

func (t Target) String() string {
	switch t {
	case FPGA:
		return "fpga"
	case Flash:
		return "flash"
	case PMIC:
		return "pmic"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// PMICAddress is the I2C address of the power controller.
const PMICAddress = 0x48

// Bus performs a combined write-then-read transfer. For SPI targets the
// exchange is full duplex: rx captures the wire from the first clock, so
// the first len(tx) bytes of rx are echo filler and the device's answer
// follows. For the PMIC the transfer is an I2C register exchange with no
// echo. Either buffer may be nil.
type Bus interface {
	Transfer(tx, rx []byte, target Target) error
}
