package fpga

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silwitch/replink/internal/bus/bussim"
	"github.com/silwitch/replink/internal/machine/gpio"
)

func newDriver(t *testing.T) (*Driver, *bussim.SimBus, *gpio.Sim) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sim := bussim.New(bussim.Options{Logger: logger})
	pins := gpio.NewSim()
	d := New(sim, pins, logger)
	d.Init()
	return d, sim, pins
}

func TestConfigurationStateMachine(t *testing.T) {
	d, _, pins := newDriver(t)

	assert.Equal(t, StateReset, d.Status())

	// The done pin falls when configuration starts.
	pins.Stimulate(DonePin, 0)
	assert.Equal(t, StateReset, d.Status(), "edges in reset mean nothing")

	d.Run()
	assert.Equal(t, 1, pins.Read(ResetPin))
	assert.Equal(t, StateConfiguring, d.Status())

	// Rising done pin completes configuration.
	pins.Stimulate(DonePin, 1)
	assert.Equal(t, StateRunning, d.Status())
}

func TestReset(t *testing.T) {
	d, _, pins := newDriver(t)

	d.Run()
	pins.Stimulate(DonePin, 0)
	pins.Stimulate(DonePin, 1)
	require.Equal(t, StateRunning, d.Status())

	d.Reset()
	assert.Equal(t, 0, pins.Read(ResetPin))
	assert.Equal(t, StateReset, d.Status())
}

func TestUserInterrupt(t *testing.T) {
	d, _, pins := newDriver(t)

	d.Run()
	pins.Stimulate(DonePin, 0)
	pins.Stimulate(DonePin, 1)
	require.Equal(t, StateRunning, d.Status())

	var levels []int
	d.IRQ(func(level int) { levels = append(levels, level) })

	pins.Stimulate(DonePin, 0)
	pins.Stimulate(DonePin, 1)
	assert.Equal(t, []int{0, 1}, levels)

	d.IRQDisable()
	pins.Stimulate(DonePin, 0)
	assert.Equal(t, []int{0, 1}, levels, "no callbacks after disable")
}

func TestBusAccess(t *testing.T) {
	d, sim, _ := newDriver(t)

	require.NoError(t, d.Write([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x01, 0x02}, sim.FPGA().Written())

	sim.FPGA().QueueResponse([]byte{0xAA, 0xBB})
	buf := make([]byte, 2)
	require.NoError(t, d.Read(buf))
	assert.Equal(t, []byte{0xAA, 0xBB}, buf)

	sim.FPGA().QueueResponse([]byte{0x11})
	rx := make([]byte, 1)
	require.NoError(t, d.ReadWrite(rx, []byte{0x22}))
	assert.Equal(t, []byte{0x11}, rx)
	assert.Equal(t, []byte{0x01, 0x02, 0x22}, sim.FPGA().Written())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FPGA_RESET", StateReset.String())
	assert.Equal(t, "FPGA_CONFIGURING", StateConfiguring.String())
	assert.Equal(t, "FPGA_RUNNING", StateRunning.String())
}
