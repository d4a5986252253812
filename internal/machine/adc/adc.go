// Package adc exposes the SAADC on the two analog pins. Conversions are
// configured per channel; channel 7 is reserved for the battery monitor.
package adc

import (
	"fmt"
	"math"

	"github.com/mcuadros/go-defaults"
)

// Input is an analog input line.
type Input int

const (
	// InputAMUX is the power controller's analog mux output, wired to
	// the battery monitor on channel 7.
	InputAMUX Input = 1
	InputA1   Input = 2
	InputA2   Input = 3

	inputDisabled Input = -1
)

// Pull is an input resistor ladder setting.
type Pull int

const (
	PullDisabled Pull = iota
	PullDown
	PullUp
	PullHalf
)

// Gain scales the input before conversion.
type Gain int

const (
	GainDiv6 Gain = iota
	GainDiv5
	GainDiv4
	GainDiv3
	GainDiv2
	GainUnity
	GainMul2
	GainMul4
)

func (g Gain) factor() float64 {
	switch g {
	case GainDiv6:
		return 1.0 / 6.0
	case GainDiv5:
		return 1.0 / 5.0
	case GainDiv4:
		return 1.0 / 4.0
	case GainDiv3:
		return 1.0 / 3.0
	case GainDiv2:
		return 1.0 / 2.0
	case GainUnity:
		return 1.0
	case GainMul2:
		return 2.0
	case GainMul4:
		return 4.0
	default:
		return 0
	}
}

// Reference selects the conversion reference voltage.
type Reference int

const (
	RefInternal   Reference = iota // 0.6V
	RefQuarterVDD                  // 1.8V / 4
)

func (r Reference) volts() float64 {
	if r == RefQuarterVDD {
		return 1.8 / 4.0
	}
	return 0.6
}

// Mode selects single ended or differential conversion.
type Mode int

const (
	ModeSingle Mode = iota
	ModeDiff
)

// Source is the analog world underneath the converter.
type Source interface {
	Voltage(in Input) float64
}

// Config describes one conversion channel.
type Config struct {
	Channel    int
	Pin        Input
	Resolution int `default:"14"`
	Oversample int `default:"32"`
	PullP      Pull
	PullN      Pull
	Gain       Gain
	Reference  Reference
	AcqTime    int `default:"10"`
	Mode       Mode
}

// ADC is one configured conversion channel.
type ADC struct {
	src Source
	cfg Config
	n   Input
}

// New validates cfg, applies defaults for zeroed tuning fields, and
// returns a converter.
func New(src Source, cfg Config) (*ADC, error) {
	defaults.SetDefaults(&cfg)

	if cfg.Channel < 0 || cfg.Channel > 6 {
		return nil, fmt.Errorf("adc: channel must be between 0 and 6")
	}
	if cfg.Pin != InputA1 && cfg.Pin != InputA2 {
		return nil, fmt.Errorf("adc: invalid pin for ADC")
	}
	switch cfg.Resolution {
	case 8, 10, 12, 14:
	default:
		return nil, fmt.Errorf("adc: invalid value for resolution")
	}
	switch cfg.Oversample {
	case 1, 2, 4, 8, 16, 32, 64, 128, 256:
	default:
		return nil, fmt.Errorf("adc: invalid oversampling factor")
	}
	if cfg.PullP < PullDisabled || cfg.PullP > PullHalf {
		return nil, fmt.Errorf("adc: invalid option for positive pull resistor")
	}
	if cfg.PullN < PullDisabled || cfg.PullN > PullHalf {
		return nil, fmt.Errorf("adc: invalid option for negative pull resistor")
	}
	if cfg.Gain.factor() == 0 {
		return nil, fmt.Errorf("adc: invalid option for gain")
	}
	if cfg.Reference != RefInternal && cfg.Reference != RefQuarterVDD {
		return nil, fmt.Errorf("adc: invalid option for reference level")
	}
	switch cfg.AcqTime {
	case 3, 5, 10, 15, 20, 40:
	default:
		return nil, fmt.Errorf("adc: invalid value for acquisition time")
	}
	if cfg.Mode != ModeSingle && cfg.Mode != ModeDiff {
		return nil, fmt.Errorf("adc: invalid pin mode")
	}

	a := &ADC{src: src, cfg: cfg, n: inputDisabled}
	if cfg.Mode == ModeDiff {
		// The other analog pin becomes the negative input.
		if cfg.Pin == InputA1 {
			a.n = InputA2
		} else {
			a.n = InputA1
		}
	}
	return a, nil
}

func (a *ADC) maxCounts() int {
	bits := a.cfg.Resolution
	if a.cfg.Mode == ModeDiff {
		bits--
	}
	return 1 << bits
}

// Read performs one conversion and returns the raw counts.
func (a *ADC) Read() int {
	v := a.src.Voltage(a.cfg.Pin)
	if a.cfg.Mode == ModeDiff {
		v -= a.src.Voltage(a.n)
	}
	return Quantize(v, a.cfg.Gain, a.cfg.Reference, a.maxCounts())
}

// Voltage performs one conversion and scales the counts back into volts
// using the channel's gain and reference.
func (a *ADC) Voltage() float64 {
	value := a.Read()
	ref := a.cfg.Reference.volts()
	return (ref / a.cfg.Gain.factor()) / float64(a.maxCounts()) * float64(value)
}

// Calibrate runs an offset calibration. The simulated converter has no
// offset to trim.
func (a *ADC) Calibrate() {}

// Quantize converts an input voltage into raw counts the way the
// converter hardware does, saturating at full scale.
func Quantize(v float64, gain Gain, ref Reference, maxCounts int) int {
	counts := math.Round(v * gain.factor() / ref.volts() * float64(maxCounts))
	if counts >= float64(maxCounts) {
		return maxCounts - 1
	}
	if counts < 0 {
		return 0
	}
	return int(counts)
}
