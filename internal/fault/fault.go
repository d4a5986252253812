// Package fault implements the device-wide assert primitive. There is no
// graduated recovery anywhere in this firmware: every unexpected failure
// from the vendor stack, the peripheral bus, or the runtime above ends in a
// full device reset.
package fault

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ResetFunc performs the system reset. It must not return; implementations
// that cannot truly halt (tests, host simulation) may return, in which case
// Check returns to its caller after the hook runs.
type ResetFunc func(code uint32)

// Handler is the single fault sink shared by every component. It is safe to
// call from any goroutine, including the event-dispatch context and stack
// callbacks.
type Handler struct {
	log   *logrus.Entry
	reset ResetFunc
	count atomic.Uint32
}

// NewHandler returns a handler that logs through logger and resets via
// reset. A nil reset leaves only the log side effect, which is what tests
// want.
func NewHandler(logger *logrus.Logger, reset ResetFunc) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		log:   logger.WithField("component", "fault"),
		reset: reset,
	}
}

// Check is the assert-if primitive: a nil error is a no-op, anything else
// is fatal and resets the device.
func (h *Handler) Check(err error) {
	if err == nil {
		return
	}
	h.count.Add(1)
	h.log.WithError(err).Error("fatal fault, resetting device")
	if h.reset != nil {
		h.reset(1)
	}
}

// Checkf is Check with extra context recorded before the reset.
func (h *Handler) Checkf(err error, what string) {
	if err == nil {
		return
	}
	h.count.Add(1)
	h.log.WithError(err).WithField("op", what).Error("fatal fault, resetting device")
	if h.reset != nil {
		h.reset(1)
	}
}

// Trip reports an unconditional fault with a reason code. Used where the
// original condition has no error value, such as a failed chip-ID probe.
func (h *Handler) Trip(code uint32) {
	h.count.Add(1)
	h.log.WithField("code", code).Error("fatal fault, resetting device")
	if h.reset != nil {
		h.reset(code)
	}
}

// Faults returns how many faults have been recorded. Only meaningful when
// the reset hook returns, i.e. in tests.
func (h *Handler) Faults() uint32 {
	return h.count.Load()
}
