// Package sd defines the boundary to the vendor BLE stack. The stack itself
// is a black box reached through the Stack interface; this package only
// fixes the call surface, the event vocabulary, and the handful of error
// codes the transport is allowed to treat as non-fatal.
package sd

import (
	"errors"
	"fmt"
)

// Handle sentinels, matching the vendor stack's conventions.
const (
	ConnHandleInvalid uint16 = 0xFFFF
	AdvHandleNotSet   uint8  = 0xFF
)

// Disconnect reasons and security replies passed straight through to the
// stack.
const (
	ReasonRemoteUserTerminated byte = 0x13
	SecStatusPairingNotSupp    byte = 0x85
)

// MinATTMTU is the pre-negotiation ATT MTU every link starts from.
const MinATTMTU uint16 = 23

// ATTOverhead is reserved per notification for the GATT op-code and
// attribute handle.
const ATTOverhead uint16 = 3

// AdvPayloadMax is the link-layer limit for a legacy advertising payload.
const AdvPayloadMax = 31

// Error codes the transport treats specially. Everything else returned by
// the stack is fatal.
var (
	// ErrNotFound means the event queue is drained.
	ErrNotFound = errors.New("sd: not found")
	// ErrInvalidState means the operation makes no sense right now, e.g.
	// a notify with no active link.
	ErrInvalidState = errors.New("sd: invalid state")
	// ErrInvalidConnHandle means the connection handle is stale or bogus.
	ErrInvalidConnHandle = errors.New("sd: invalid connection handle")
	// ErrResources means the stack's notification queue is full and the
	// submission should be retried shortly.
	ErrResources = errors.New("sd: resources exhausted")
)

// Error wraps a stack failure with the call that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("sd: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ConnParams carries preferred connection parameters in the stack's native
// units: intervals in 1.25ms, supervision timeout in 10ms.
type ConnParams struct {
	MinInterval        uint16
	MaxInterval        uint16
	SlaveLatency       uint16
	SupervisionTimeout uint16
}

// AdvParams configures an advertising set. Interval is in 0.625ms units.
// The payload referenced by ConfigureAdvertising must stay valid for as
// long as the set may be (re)started.
type AdvParams struct {
	Interval uint16
}

// CharProps is the subset of GATT characteristic properties this device
// uses.
type CharProps struct {
	Write          bool
	WriteNoResp    bool
	Notify         bool
}

// CharParams describes one characteristic to register.
type CharParams struct {
	UUID   UUID
	Props  CharProps
	MaxLen uint16
}

// CharHandles are the attribute handles the stack assigns to a registered
// characteristic.
type CharHandles struct {
	Value uint16
	CCCD  uint16
}

// Stack is the vendor BLE stack as the transport sees it. All calls are
// synchronous; asynchronous activity surfaces through the event queue.
//
// Registration calls (name, service, characteristics, advertising) happen
// once at boot from the main context. NextEvent is polled from the single
// event-dispatch context. Notify may be called from the main context and
// must tolerate racing a disconnect, reporting ErrInvalidState or
// ErrInvalidConnHandle rather than failing hard.
type Stack interface {
	// DeviceAddress returns the hardware identifier register used to
	// derive the advertised device name.
	DeviceAddress() uint32

	SetDeviceName(name string) error
	SetPreferredConnParams(p ConnParams) error
	PreferredConnParams() (ConnParams, error)

	// RegisterVendorUUID registers a 128-bit base and returns the type
	// index used by 16-bit aliases under it.
	RegisterVendorUUID(base UUID128) (uint8, error)
	AddService(svc UUID) (uint16, error)
	AddCharacteristic(service uint16, p CharParams) (CharHandles, error)
	// EncodeUUID renders a registered UUID into its over-the-air form for
	// the advertising payload.
	EncodeUUID(u UUID) ([]byte, error)

	ConfigureAdvertising(payload []byte, p AdvParams) (uint8, error)
	StartAdvertising(handle uint8) error

	Notify(conn uint16, valueHandle uint16, data []byte) error
	ExchangeMTUReply(conn uint16, serverMTU uint16) error
	RequestConnParamUpdate(conn uint16, p ConnParams) error
	AcceptPHYUpdate(conn uint16) error
	ReplySecurityParams(conn uint16, status byte) error
	SetSystemAttributes(conn uint16, attrs []byte) error
	Disconnect(conn uint16, reason byte) error

	// NextEvent pops one pending event, or ErrNotFound when the queue is
	// drained.
	NextEvent() (Event, error)
	// Signal pulses whenever events become pending. It stands in for the
	// software interrupt line the stack raises on real hardware.
	Signal() <-chan struct{}
	// WaitForEvent blocks until any asynchronous activity occurs: an
	// event, a timer tick, or link housekeeping. The power-saving idle
	// primitive; no timeout.
	WaitForEvent()
}
