// Package transport multiplexes the REPL byte stream onto a BLE GATT link.
//
// It owns the connection and advertising lifecycle, the UART-style service
// registration, MTU negotiation, and the event dispatch loop that stands in
// for the stack's software interrupt handler. Bytes are staged in two
// single-producer/single-consumer ring buffers: inbound writes land in the
// RX ring from the dispatch context, outbound bytes drain from the TX ring
// into MTU-sized notifications from the main context.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/fault"
	"github.com/silwitch/replink/internal/ringbuf"
	"github.com/silwitch/replink/internal/sd"
)

// VendorBaseUUID is the UART-like service base. Aliases 0x0001..0x0003 for
// the service and its RX/TX characteristics live under it.
const VendorBaseUUID = "6E400000-B5A3-F393-E0A9-E50E24DCCA9E"

// Service and characteristic aliases under the vendor base.
const (
	ServiceAlias uint16 = 0x0001
	RXAlias      uint16 = 0x0002 // central -> peripheral, write
	TXAlias      uint16 = 0x0003 // peripheral -> central, notify
)

// Config carries the transport's tunables. Zero values select the device
// defaults.
type Config struct {
	MaxMTU             uint16        // local ATT MTU ceiling, default 128
	RingCapacity       int           // per-direction ring size, default 1069
	NamePrefix         string        // advertised name prefix, default "S1"
	AdvInterval        time.Duration // default 20ms
	ConnInterval       time.Duration // preferred min=max interval, default 15ms
	SlaveLatency       uint16        // default 3
	SupervisionTimeout time.Duration // default 2s
	RetryDelay         time.Duration // notify resubmit delay, default 100µs
}

func (c Config) withDefaults() Config {
	if c.MaxMTU == 0 {
		c.MaxMTU = 128
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = ringbuf.DefaultCapacity
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "S1"
	}
	if c.AdvInterval == 0 {
		c.AdvInterval = 20 * time.Millisecond
	}
	if c.ConnInterval == 0 {
		c.ConnInterval = 15 * time.Millisecond
	}
	if c.SlaveLatency == 0 {
		c.SlaveLatency = 3
	}
	if c.SupervisionTimeout == 0 {
		c.SupervisionTimeout = 2 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 100 * time.Microsecond
	}
	return c
}

// Transport is the BLE transport state machine. One instance per device.
type Transport struct {
	cfg    Config
	stack  sd.Stack
	log    *logrus.Entry
	faults *fault.Handler

	rx *ringbuf.Buffer // radio -> runtime
	tx *ringbuf.Buffer // runtime -> radio

	conn atomic.Uint32 // current connection handle, ConnHandleInvalid when idle
	mtu  atomic.Uint32 // negotiated notification payload size (ATT MTU - 3)

	advHandle  uint8
	advPayload []byte // must stay referenced while advertising
	uuidType   uint8
	rxChar     sd.CharHandles
	txChar     sd.CharHandles

	out []byte // flush staging buffer, main context only

	droppedIn  atomic.Uint64 // inbound bytes lost to RX ring overflow
	droppedOut atomic.Uint64 // outbound bytes lost to TX ring overflow
}

// New wires a transport to a stack. Call Start before using it.
func New(stack sd.Stack, cfg Config, logger *logrus.Logger, faults *fault.Handler) *Transport {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:    cfg,
		stack:  stack,
		log:    logger.WithField("component", "transport"),
		faults: faults,
		rx:     ringbuf.New(cfg.RingCapacity),
		tx:     ringbuf.New(cfg.RingCapacity),
		out:    make([]byte, cfg.MaxMTU),
	}
	t.conn.Store(uint32(sd.ConnHandleInvalid))
	t.mtu.Store(uint32(sd.MinATTMTU - sd.ATTOverhead))
	return t
}

// DeviceName renders the advertised name: the prefix plus four hex digits
// from the low 16 bits of the hardware address.
func DeviceName(prefix string, addr uint32) string {
	return fmt.Sprintf("%s-%04X", prefix, uint16(addr))
}

// Start registers GAP parameters, the UART-like service, and the
// advertising set, then starts advertising. Any stack failure here is
// returned for the caller to treat as fatal; boot cannot proceed half done.
func (t *Transport) Start() error {
	name := DeviceName(t.cfg.NamePrefix, t.stack.DeviceAddress())
	if err := t.stack.SetDeviceName(name); err != nil {
		return fmt.Errorf("set device name: %w", err)
	}

	interval := uint16(t.cfg.ConnInterval.Microseconds() / 1250)
	params := sd.ConnParams{
		MinInterval:        interval,
		MaxInterval:        interval,
		SlaveLatency:       t.cfg.SlaveLatency,
		SupervisionTimeout: uint16(t.cfg.SupervisionTimeout.Microseconds() / 10000),
	}
	if err := t.stack.SetPreferredConnParams(params); err != nil {
		return fmt.Errorf("set connection parameters: %w", err)
	}

	base, err := sd.ParseBase(VendorBaseUUID)
	if err != nil {
		return err
	}
	t.uuidType, err = t.stack.RegisterVendorUUID(base)
	if err != nil {
		return fmt.Errorf("register vendor UUID: %w", err)
	}

	serviceUUID := sd.UUID{Alias: ServiceAlias, Type: t.uuidType}
	service, err := t.stack.AddService(serviceUUID)
	if err != nil {
		return fmt.Errorf("add service: %w", err)
	}

	maxValue := t.cfg.MaxMTU - sd.ATTOverhead
	t.rxChar, err = t.stack.AddCharacteristic(service, sd.CharParams{
		UUID:   sd.UUID{Alias: RXAlias, Type: t.uuidType},
		Props:  sd.CharProps{Write: true, WriteNoResp: true},
		MaxLen: maxValue,
	})
	if err != nil {
		return fmt.Errorf("add rx characteristic: %w", err)
	}
	t.txChar, err = t.stack.AddCharacteristic(service, sd.CharParams{
		UUID:   sd.UUID{Alias: TXAlias, Type: t.uuidType},
		Props:  sd.CharProps{Notify: true},
		MaxLen: maxValue,
	})
	if err != nil {
		return fmt.Errorf("add tx characteristic: %w", err)
	}

	encoded, err := t.stack.EncodeUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("encode service UUID: %w", err)
	}
	t.advPayload, err = buildAdvPayload(name, encoded)
	if err != nil {
		return err
	}

	t.advHandle, err = t.stack.ConfigureAdvertising(t.advPayload, sd.AdvParams{
		Interval: uint16(t.cfg.AdvInterval.Microseconds() / 625),
	})
	if err != nil {
		return fmt.Errorf("configure advertising: %w", err)
	}
	if err := t.stack.StartAdvertising(t.advHandle); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"name":    name,
		"max_mtu": t.cfg.MaxMTU,
	}).Info("advertising started")
	return nil
}

// Run pumps the dispatch loop until ctx is cancelled. It is the simulated
// interrupt context: the only goroutine that mutates connection state and
// the RX ring head.
func (t *Transport) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stack.Signal():
			t.Service()
		}
	}
}

// Service drains every pending stack event. Exposed separately from Run so
// tests can dispatch deterministically.
func (t *Transport) Service() {
	for {
		ev, err := t.stack.NextEvent()
		if errors.Is(err, sd.ErrNotFound) {
			return
		}
		if err != nil {
			t.faults.Checkf(err, "event poll")
			return
		}
		t.handle(ev)
	}
}

func (t *Transport) handle(ev sd.Event) {
	switch e := ev.(type) {
	case sd.ConnectedEvent:
		t.conn.Store(uint32(e.Conn))
		t.log.WithField("conn", e.Conn).Info("central connected")
		params, err := t.stack.PreferredConnParams()
		t.faults.Checkf(err, "read preferred params")
		t.faults.Checkf(t.stack.RequestConnParamUpdate(e.Conn, params), "conn param update")

	case sd.DisconnectedEvent:
		t.conn.Store(uint32(sd.ConnHandleInvalid))
		t.mtu.Store(uint32(sd.MinATTMTU - sd.ATTOverhead))
		t.log.WithField("reason", fmt.Sprintf("0x%02X", e.Reason)).Info("central disconnected")
		// Fire-and-forget restart; a failure here is unrecoverable.
		t.faults.Checkf(t.stack.StartAdvertising(t.advHandle), "restart advertising")

	case sd.PHYUpdateRequestEvent:
		t.faults.Checkf(t.stack.AcceptPHYUpdate(e.Conn), "phy update")

	case sd.ExchangeMTURequestEvent:
		t.faults.Checkf(t.stack.ExchangeMTUReply(e.Conn, t.cfg.MaxMTU), "mtu reply")
		att := t.cfg.MaxMTU
		if e.ClientRxMTU < att {
			att = e.ClientRxMTU
		}
		t.mtu.Store(uint32(att - sd.ATTOverhead))
		t.log.WithFields(logrus.Fields{
			"client":  e.ClientRxMTU,
			"payload": att - sd.ATTOverhead,
		}).Debug("MTU negotiated")

	case sd.WriteEvent:
		if e.Handle != t.rxChar.Value {
			return
		}
		for i, b := range e.Data {
			if !t.rx.Put(b) {
				// Backpressure by drop: the remaining bytes are lost.
				t.droppedIn.Add(uint64(len(e.Data) - i))
				break
			}
		}

	case sd.GATTClientTimeoutEvent:
		t.faults.Checkf(t.stack.Disconnect(e.Conn, sd.ReasonRemoteUserTerminated), "gattc timeout disconnect")

	case sd.GATTServerTimeoutEvent:
		t.faults.Checkf(t.stack.Disconnect(e.Conn, sd.ReasonRemoteUserTerminated), "gatts timeout disconnect")

	case sd.SysAttrMissingEvent:
		// No bonding, so there is never state to restore.
		t.faults.Checkf(t.stack.SetSystemAttributes(e.Conn, nil), "sys attr reply")

	case sd.SecParamsRequestEvent:
		t.faults.Checkf(t.stack.ReplySecurityParams(e.Conn, sd.SecStatusPairingNotSupp), "security reply")

	case sd.FlashOpEvent:
		// Reserved for a future filesystem.
		t.log.WithField("ok", e.OK).Debug("flash operation event")
	}
}

// Flush drains the TX ring into MTU-sized notifications. Called from the
// main context only.
//
// Benign failures abandon the flush: with no active link output is simply
// discarded. A full stack TX queue is retried after a short fixed delay,
// without bound, because the link layer is expected to drain within a
// connection interval. Anything else resets the device.
func (t *Transport) Flush() {
	for !t.tx.Empty() {
		unit := int(t.mtu.Load())
		if unit > len(t.out) {
			unit = len(t.out)
		}
		n := 0
		for n < unit {
			b, ok := t.tx.Get()
			if !ok {
				break
			}
			t.out[n] = b
			n++
		}

		conn := uint16(t.conn.Load())
		for {
			err := t.stack.Notify(conn, t.txChar.Value, t.out[:n])
			if err == nil {
				break
			}
			if errors.Is(err, sd.ErrInvalidState) || errors.Is(err, sd.ErrInvalidConnHandle) {
				// Not connected: the consumed bytes are gone, by policy.
				return
			}
			if errors.Is(err, sd.ErrResources) {
				time.Sleep(t.cfg.RetryDelay)
				continue
			}
			t.faults.Checkf(err, "notify")
			return
		}
	}
}

// Connected reports whether a central is attached. The answer may be
// momentarily stale when read from the main context; callers tolerate that.
func (t *Transport) Connected() bool {
	return uint16(t.conn.Load()) != sd.ConnHandleInvalid
}

// NegotiatedMTU returns the current notification payload unit.
func (t *Transport) NegotiatedMTU() uint16 {
	return uint16(t.mtu.Load())
}

// RXHandles returns the inbound characteristic's attribute handles.
func (t *Transport) RXHandles() sd.CharHandles { return t.rxChar }

// TXHandles returns the outbound characteristic's attribute handles.
func (t *Transport) TXHandles() sd.CharHandles { return t.txChar }

// DroppedInbound counts bytes lost to RX ring overflow.
func (t *Transport) DroppedInbound() uint64 { return t.droppedIn.Load() }

// DroppedOutbound counts bytes lost to TX ring overflow.
func (t *Transport) DroppedOutbound() uint64 { return t.droppedOut.Load() }

// PendingOutbound returns how many bytes await transmission.
func (t *Transport) PendingOutbound() int { return t.tx.Len() }
