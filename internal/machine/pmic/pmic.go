// Package pmic drives the MAX77654 power controller over I2C: Li-Po
// charging, the FPGA core rail (SBB1), the auxiliary rail (SBB2/Vaux),
// the IO rail (LDO0/Vio), and battery voltage monitoring through the
// analog mux.
package pmic

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/bus"
	"github.com/silwitch/replink/internal/machine/adc"
)

// Register map.
const (
	regChipID     = 0x14
	regChargeI    = 0x24
	regChargeV    = 0x26
	regAMUXConfig = 0x28
	regSBB1Target = 0x2B
	regSBB1Config = 0x2C
	regSBB2Target = 0x2D
	regSBB2Config = 0x2E
	regLDO0Target = 0x38
	regLDO0Config = 0x39
)

// ChipID is the value regChipID holds on a genuine part.
const ChipID = 0x7A

// The analog mux scales the battery voltage into the 0-1.25V window.
const amuxGain = 0.272

// VioMode reports how the IO rail is configured.
type VioMode int

const (
	VioOff VioMode = iota
	VioLDO
	VioLoadSwitch
)

// Driver talks to the power controller.
type Driver struct {
	bus  bus.Bus
	amux adc.Source
	log  *logrus.Entry
}

func New(b bus.Bus, amux adc.Source, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{
		bus:  b,
		amux: amux,
		log:  logger.WithField("component", "pmic"),
	}
}

func (d *Driver) readReg(reg byte) (byte, error) {
	rx := make([]byte, 1)
	if err := d.bus.Transfer([]byte{reg}, rx, bus.PMIC); err != nil {
		return 0, fmt.Errorf("pmic read 0x%02X: %w", reg, err)
	}
	return rx[0], nil
}

func (d *Driver) writeReg(reg, value byte) error {
	if err := d.bus.Transfer([]byte{reg, value}, nil, bus.PMIC); err != nil {
		return fmt.Errorf("pmic write 0x%02X: %w", reg, err)
	}
	return nil
}

// Init verifies the chip is present and answering.
func (d *Driver) Init() error {
	id, err := d.readReg(regChipID)
	if err != nil {
		return err
	}
	if id != ChipID {
		return fmt.Errorf("pmic: unexpected chip ID 0x%02X", id)
	}
	d.log.Debug("chip ID verified")
	return nil
}

// ChargeConfig returns the configured charge voltage (V) and current (mA).
func (d *Driver) ChargeConfig() (voltage, current float64, err error) {
	v, err := d.readReg(regChargeV)
	if err != nil {
		return 0, 0, err
	}
	i, err := d.readReg(regChargeI)
	if err != nil {
		return 0, 0, err
	}
	// Settings live in the top six bits of each register.
	voltage = float64(v>>2)*0.025 + 3.6
	current = float64(i>>2)*7.5 + 7.5
	return voltage, current, nil
}

// SetChargeVoltage sets the Li-Po termination voltage, 3.6V to 4.3V.
func (d *Driver) SetChargeVoltage(voltage float64) error {
	if voltage < 3.6 || voltage > 4.3 {
		return fmt.Errorf("pmic: charge voltage must be between 3.6V and 4.3V")
	}
	setting := byte(math.Round((voltage-3.6)/0.025)) << 2
	// Low bits zero keep charging allowed.
	return d.writeReg(regChargeV, setting)
}

// SetChargeCurrent sets the charge current, 7.5mA to 300mA.
func (d *Driver) SetChargeCurrent(current float64) error {
	if current < 7.5 || current > 300.0 {
		return fmt.Errorf("pmic: charge current must be between 7.5mA and 300mA")
	}
	setting := byte(math.Round((current-7.5)/7.5)) << 2
	// Low bits 0b01 arm the 3 hour safety timer.
	return d.writeReg(regChargeI, setting|0b01)
}

// FPGAPowered reports whether the core rail is up.
func (d *Driver) FPGAPowered() (bool, error) {
	cfg, err := d.readReg(regSBB1Config)
	if err != nil {
		return false, err
	}
	return cfg&0b10 != 0, nil
}

// SetFPGAPower switches the 1.2V core rail. Powering down also drops Vio
// first so the FPGA IO bank is never powered ahead of its core.
func (d *Driver) SetFPGAPower(on bool) error {
	// SBB1 target is fixed at 1.2V.
	if err := d.writeReg(regSBB1Target, 0x08); err != nil {
		return err
	}
	if on {
		// Buck mode, 0.333A limit.
		return d.writeReg(regSBB1Config, 0x7E)
	}
	if err := d.writeReg(regLDO0Config, 0x0C); err != nil {
		return err
	}
	return d.writeReg(regSBB1Config, 0x7C)
}

// Vaux returns the auxiliary rail voltage, 0 when the rail is off.
func (d *Driver) Vaux() (float64, error) {
	cfg, err := d.readReg(regSBB2Config)
	if err != nil {
		return 0, err
	}
	if cfg&0b110 != 0b110 {
		return 0, nil
	}
	target, err := d.readReg(regSBB2Target)
	if err != nil {
		return 0, err
	}
	return float64(target&0x7F)*0.05 + 0.8, nil
}

// SetVaux sets the auxiliary rail, 0V or 0.8V to 5.5V. Voltages above
// 3.45V are refused while Vio runs in load switch mode, which would put
// Vaux straight onto the FPGA IO bank.
func (d *Driver) SetVaux(voltage float64) error {
	if voltage == 0 {
		return d.writeReg(regSBB2Config, 0x0C)
	}
	if voltage < 0.8 || voltage > 5.5 {
		return fmt.Errorf("pmic: Vaux can only be set to 0V, or between 0.8V and 5.5V")
	}
	if voltage > 3.45 {
		ldo, err := d.readReg(regLDO0Config)
		if err != nil {
			return err
		}
		if ldo&0x10 == 0x10 {
			return fmt.Errorf("pmic: Vaux cannot exceed 3.45V when Vio is in LSW mode")
		}
	}
	if err := d.writeReg(regSBB2Target, byte(math.Round((voltage-0.8)/0.05))); err != nil {
		return err
	}
	// Buck-boost, 1A limit, discharge resistor on.
	return d.writeReg(regSBB2Config, 0x0E)
}

// Vio returns the IO rail mode and LDO voltage. The voltage is only
// meaningful in LDO mode.
func (d *Driver) Vio() (VioMode, float64, error) {
	cfg, err := d.readReg(regLDO0Config)
	if err != nil {
		return VioOff, 0, err
	}
	enabled := cfg&0b110 == 0b110
	if cfg&0x10 == 0x10 {
		if enabled {
			return VioLoadSwitch, 0, nil
		}
		return VioOff, 0, nil
	}
	if !enabled {
		return VioOff, 0, nil
	}
	target, err := d.readReg(regLDO0Target)
	if err != nil {
		return VioOff, 0, err
	}
	voltage := float64(target&0x7F)*0.025 + 0.8
	d.warnHeadroom(voltage)
	return VioLDO, voltage, nil
}

// warnHeadroom flags an LDO set point the upstream rail cannot regulate.
func (d *Driver) warnHeadroom(ldoVoltage float64) {
	target, err := d.readReg(regSBB2Target)
	if err != nil {
		return
	}
	vaux := float64(target&0x7F)*0.05 + 0.8
	if vaux < ldoVoltage+0.1 {
		d.log.Warn("Vaux set too low, voltage must be 100mV above Vio for correct regulation")
	}
}

func (d *Driver) requireFPGAPower() error {
	powered, err := d.FPGAPowered()
	if err != nil {
		return err
	}
	if !powered {
		return fmt.Errorf("pmic: Vio cannot be configured while FPGA is powered down")
	}
	return nil
}

// SetVio sets the IO rail LDO, 0V or 0.8V to 3.45V. The FPGA core rail
// must be up first.
func (d *Driver) SetVio(voltage float64) error {
	if voltage == 0 {
		return d.writeReg(regLDO0Config, 0x0C)
	}
	if err := d.requireFPGAPower(); err != nil {
		return err
	}
	if voltage < 0.8 || voltage > 3.45 {
		return fmt.Errorf("pmic: Vio can only be set to 0V, or between 0.8V and 3.45V")
	}
	d.warnHeadroom(voltage)
	if err := d.writeReg(regLDO0Target, byte(math.Round((voltage-0.8)/0.025))); err != nil {
		return err
	}
	// LDO mode with discharge resistor.
	return d.writeReg(regLDO0Config, 0x0E)
}

// SetVioLoadSwitch puts the IO rail into load switch mode, passing Vaux
// through. Refused when Vaux is set above the 3.45V IO bank limit.
func (d *Driver) SetVioLoadSwitch(on bool) error {
	if err := d.requireFPGAPower(); err != nil {
		return err
	}
	target, err := d.readReg(regSBB2Target)
	if err != nil {
		return err
	}
	// (3.45 - 0.8) / 0.05 = 53
	if target&0x7F > 53 {
		return fmt.Errorf("pmic: Vaux cannot exceed 3.45V when Vio is in LSW mode")
	}
	if on {
		return d.writeReg(regLDO0Config, 0x1E)
	}
	return d.writeReg(regLDO0Config, 0x1C)
}

// EnableBatteryMeasurement switches the analog mux battery path on or
// off. Leaving it off saves power.
func (d *Driver) EnableBatteryMeasurement(on bool) error {
	if on {
		return d.writeReg(regAMUXConfig, 0xF3)
	}
	return d.writeReg(regAMUXConfig, 0xF0)
}

// BatteryVoltage samples the analog mux and returns the battery voltage.
func (d *Driver) BatteryVoltage() (float64, error) {
	cfg, err := d.readReg(regAMUXConfig)
	if err != nil {
		return 0, err
	}
	if cfg&0x03 == 0 {
		return 0, fmt.Errorf("pmic: battery measurement not enabled")
	}

	// 14-bit conversion, internal 0.6V reference, 1/3 gain.
	raw := adc.Quantize(d.amux.Voltage(adc.InputAMUX), adc.GainDiv3, adc.RefInternal, 1<<14)
	voltage := (0.6 / (1.0 / 3.0)) / float64(1<<14) * float64(raw)
	return voltage / amuxGain, nil
}
