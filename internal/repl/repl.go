// Package repl is the demo console runtime behind the transport stream:
// a line shell with a few hardware commands and an integer calculator.
package repl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/machine/flash"
	"github.com/silwitch/replink/internal/machine/fpga"
	"github.com/silwitch/replink/internal/machine/pmic"
	"github.com/silwitch/replink/internal/machine/rtc"
)

// Stream is the byte pipe the shell lives on.
type Stream interface {
	PullByte() byte
	PushBytes(p []byte)
	Flush()
}

// Hardware collects the drivers the shell exposes. Nil fields disable
// the matching commands.
type Hardware struct {
	Flash *flash.Driver
	FPGA  *fpga.Driver
	PMIC  *pmic.Driver
	Clock *rtc.Clock
}

// Control bytes the shell reacts to.
const (
	ctrlC     = 0x03
	ctrlD     = 0x04
	backspace = 0x08
	delete_   = 0x7F
)

const prompt = ">>> "

const banner = "\r\n" +
	"Welcome to the S1 console!\r\n" +
	"\r\n" +
	"For hardware help, visit: https://docs.siliconwitchery.com\r\n" +
	"\r\n" +
	"Control commands:\r\n" +
	"  Ctrl-C - interrupt the current line\r\n" +
	"  Ctrl-D - reset the device\r\n" +
	"\r\n" +
	"Type help to list the available commands\r\n"

const helpText = "Commands:\r\n" +
	"  help                 this text\r\n" +
	"  time [seconds]       read or set the clock\r\n" +
	"  battery              battery voltage\r\n" +
	"  vaux [volts]         read or set the auxiliary rail\r\n" +
	"  fpga run|reset|status\r\n" +
	"  flash erase [block]  erase everything, or one 4K block\r\n" +
	"  flash sleep          put the flash into deep sleep\r\n" +
	"\r\n" +
	"Anything else is evaluated as integer arithmetic\r\n"

// Shell runs the console until the reset byte arrives.
type Shell struct {
	stream Stream
	hw     Hardware
	log    *logrus.Entry
	reset  func()
}

func New(stream Stream, hw Hardware, logger *logrus.Logger, reset func()) *Shell {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Shell{
		stream: stream,
		hw:     hw,
		log:    logger.WithField("component", "repl"),
		reset:  reset,
	}
}

func (s *Shell) print(text string) {
	s.stream.PushBytes([]byte(text))
	s.stream.Flush()
}

// Run shows the banner and serves lines until Ctrl-D resets the device.
func (s *Shell) Run() {
	s.print(banner)
	s.print(prompt)

	var line []byte
	for {
		b := s.stream.PullByte()

		switch b {
		case ctrlD:
			s.print("\r\n")
			s.log.Info("reset requested")
			if s.reset != nil {
				s.reset()
			}
			return

		case ctrlC:
			line = line[:0]
			s.print("^C\r\n" + prompt)

		case '\r', '\n':
			s.print("\r\n")
			if out := s.eval(strings.TrimSpace(string(line))); out != "" {
				s.print(out)
			}
			line = line[:0]
			s.print(prompt)

		case backspace, delete_:
			if len(line) > 0 {
				line = line[:len(line)-1]
				s.print("\b \b")
			}

		default:
			if b >= 0x20 && b < 0x7F {
				line = append(line, b)
				s.print(string(b))
			}
		}
	}
}

// eval runs one input line and returns the text to show, ending in CRLF.
func (s *Shell) eval(line string) string {
	if line == "" {
		return ""
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "help":
		return helpText
	case "time":
		return s.cmdTime(fields[1:])
	case "battery":
		return s.cmdBattery()
	case "vaux":
		return s.cmdVaux(fields[1:])
	case "fpga":
		return s.cmdFPGA(fields[1:])
	case "flash":
		return s.cmdFlash(fields[1:])
	}

	value, err := evalExpr(line)
	if err != nil {
		return fmt.Sprintf("error: %v\r\n", err)
	}
	return fmt.Sprintf("%d\r\n", value)
}

func (s *Shell) cmdTime(args []string) string {
	if s.hw.Clock == nil {
		return "error: clock not available\r\n"
	}
	if len(args) == 0 {
		return fmt.Sprintf("%d\r\n", s.hw.Clock.Time())
	}
	seconds, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return "error: time wants a number of seconds\r\n"
	}
	s.hw.Clock.SetTime(uint32(seconds))
	return ""
}

func (s *Shell) cmdBattery() string {
	if s.hw.PMIC == nil {
		return "error: pmic not available\r\n"
	}
	v, err := s.hw.PMIC.BatteryVoltage()
	if err != nil {
		return fmt.Sprintf("error: %v\r\n", err)
	}
	return fmt.Sprintf("%.2fV\r\n", v)
}

func (s *Shell) cmdVaux(args []string) string {
	if s.hw.PMIC == nil {
		return "error: pmic not available\r\n"
	}
	if len(args) == 0 {
		v, err := s.hw.PMIC.Vaux()
		if err != nil {
			return fmt.Sprintf("error: %v\r\n", err)
		}
		return fmt.Sprintf("%.2fV\r\n", v)
	}
	volts, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "error: vaux wants a voltage\r\n"
	}
	if err := s.hw.PMIC.SetVaux(volts); err != nil {
		return fmt.Sprintf("error: %v\r\n", err)
	}
	return ""
}

func (s *Shell) cmdFPGA(args []string) string {
	if s.hw.FPGA == nil {
		return "error: fpga not available\r\n"
	}
	if len(args) == 0 {
		return "error: fpga wants run, reset or status\r\n"
	}
	switch args[0] {
	case "run":
		s.hw.FPGA.Run()
		return ""
	case "reset":
		s.hw.FPGA.Reset()
		return ""
	case "status":
		return s.hw.FPGA.Status().String() + "\r\n"
	default:
		return "error: fpga wants run, reset or status\r\n"
	}
}

func (s *Shell) cmdFlash(args []string) string {
	if s.hw.Flash == nil {
		return "error: flash not available\r\n"
	}
	if len(args) == 0 {
		return "error: flash wants erase or sleep\r\n"
	}
	switch args[0] {
	case "sleep":
		if err := s.hw.Flash.Sleep(); err != nil {
			return fmt.Sprintf("error: %v\r\n", err)
		}
		return ""
	case "erase":
		if len(args) == 1 {
			if err := s.hw.Flash.EraseAll(); err != nil {
				return fmt.Sprintf("error: %v\r\n", err)
			}
			return ""
		}
		block, err := strconv.Atoi(args[1])
		if err != nil {
			return "error: erase wants a block number\r\n"
		}
		if err := s.hw.Flash.EraseBlock(block); err != nil {
			return fmt.Sprintf("error: %v\r\n", err)
		}
		return ""
	default:
		return "error: flash wants erase or sleep\r\n"
	}
}
