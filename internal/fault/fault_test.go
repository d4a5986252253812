package fault

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCheckNilIsNoop(t *testing.T) {
	fired := false
	h := NewHandler(quietLogger(), func(uint32) { fired = true })

	h.Check(nil)
	h.Checkf(nil, "boot")

	assert.False(t, fired)
	assert.Zero(t, h.Faults())
}

func TestCheckInvokesReset(t *testing.T) {
	var code uint32
	h := NewHandler(quietLogger(), func(c uint32) { code = c })

	h.Check(errors.New("stack exploded"))

	assert.Equal(t, uint32(1), code)
	assert.Equal(t, uint32(1), h.Faults())
}

func TestTripPassesCode(t *testing.T) {
	var code uint32
	h := NewHandler(quietLogger(), func(c uint32) { code = c })

	h.Trip(0x7A)

	assert.Equal(t, uint32(0x7A), code)
}

func TestNilResetHook(t *testing.T) {
	h := NewHandler(quietLogger(), nil)

	// Must not panic without a hook installed.
	h.Check(errors.New("no hook"))
	assert.Equal(t, uint32(1), h.Faults())
}
