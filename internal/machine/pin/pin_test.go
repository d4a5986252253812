package pin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silwitch/replink/internal/machine/gpio"
)

func TestOnlyUserPinsExist(t *testing.T) {
	ctrl := gpio.NewSim()

	_, err := New(ctrl, 16, Config{})
	assert.EqualError(t, err, "pin 16 doesn't exist")

	_, err = New(ctrl, A1, Config{})
	assert.NoError(t, err)
	_, err = New(ctrl, A2, Config{})
	assert.NoError(t, err)
}

func TestOutput(t *testing.T) {
	ctrl := gpio.NewSim()
	p, err := New(ctrl, A1, Config{Mode: Out})
	require.NoError(t, err)

	p.High()
	assert.Equal(t, 1, p.Read())
	p.Low()
	assert.Equal(t, 0, p.Read())
	p.Write(1)
	assert.Equal(t, 1, ctrl.Read(A1))
}

func TestInputPull(t *testing.T) {
	ctrl := gpio.NewSim()

	up, err := New(ctrl, A1, Config{Mode: In, Pull: gpio.PullUp})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Read())

	down, err := New(ctrl, A2, Config{Mode: In, Pull: gpio.PullDown})
	require.NoError(t, err)
	assert.Equal(t, 0, down.Read())

	ctrl.Stimulate(A1, 0)
	assert.Equal(t, 0, up.Read(), "an external signal overrides the pull")
}

func TestIRQ(t *testing.T) {
	ctrl := gpio.NewSim()
	p, err := New(ctrl, A2, Config{Mode: In, Pull: gpio.PullDown})
	require.NoError(t, err)

	fired := 0
	p.IRQ(func() { fired++ })

	ctrl.Stimulate(A2, 1)
	ctrl.Stimulate(A2, 0)
	assert.Equal(t, 2, fired, "both edges fire")

	p.IRQDisable()
	ctrl.Stimulate(A2, 1)
	assert.Equal(t, 2, fired)
}
