// Package gpio is the pin controller shared by the user pin and FPGA
// drivers.
package gpio

// Dir is a pin direction.
type Dir int

const (
	Input Dir = iota
	Output
)

// Pull is a pin pull resistor setting.
type Pull int

const (
	PullNone Pull = iota
	PullDown
	PullUp
)

// Drive is a pin output drive strength, standard or high per rail.
type Drive int

const (
	DriveS0S1 Drive = iota
	DriveH0S1
	DriveS0H1
	DriveH0H1
	DriveD0S1
	DriveD0H1
	DriveS0D1
	DriveH0D1
)

// Config describes how a pin is set up.
type Config struct {
	Dir   Dir
	Pull  Pull
	Drive Drive
}

// Controller owns a set of pins. Watch callbacks fire on both edges and
// run on the goroutine that caused the transition.
type Controller interface {
	Configure(pin int, cfg Config)
	Write(pin int, level int)
	Read(pin int) int
	Watch(pin int, fn func(level int))
	Unwatch(pin int)
}
