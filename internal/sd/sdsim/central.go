package sdsim

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/silwitch/replink/internal/sd"
)

// Central is the remote end of the simulated link. Connect hands one out;
// its methods inject the traffic a real central would generate.
type Central struct {
	s         *Stack
	conn      uint16
	notifs    chan []byte
	mtuReply  chan uint16
	secReply  chan byte
	connected atomic.Bool
}

// Connect attaches a central to the advertising peripheral. It fails when
// the device is not advertising, just like the air interface would.
func (s *Stack) Connect() (*Central, error) {
	s.mu.Lock()
	if !s.advertising {
		s.mu.Unlock()
		return nil, fmt.Errorf("sdsim: peripheral is not advertising")
	}
	if s.link != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("sdsim: already connected")
	}
	c := &Central{
		s:        s,
		conn:     s.nextConn,
		notifs:   make(chan []byte, 256),
		mtuReply: make(chan uint16, 1),
		secReply: make(chan byte, 1),
	}
	c.connected.Store(true)
	s.nextConn++
	s.link = c
	s.advertising = false // connectable advertising stops on connection
	s.mu.Unlock()

	s.tracef("gap", "central connected, handle %d", c.conn)
	s.post(sd.ConnectedEvent{Conn: c.conn})
	return c, nil
}

// Conn returns the connection handle the stack assigned.
func (c *Central) Conn() uint16 {
	return c.conn
}

// Connected reports whether the link is still up.
func (c *Central) Connected() bool {
	return c.connected.Load()
}

// WriteTo writes data to an attribute handle (write-without-response).
func (c *Central) WriteTo(handle uint16, data []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("sdsim: central not connected")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.s.tracef("write", "handle %d, %d bytes", handle, len(buf))
	c.s.post(sd.WriteEvent{Conn: c.conn, Handle: handle, Data: buf})
	return nil
}

// WriteAlias writes to the characteristic registered under a 16-bit alias.
func (c *Central) WriteAlias(alias uint16, data []byte) error {
	h, ok := c.s.HandlesByAlias(alias)
	if !ok {
		return fmt.Errorf("sdsim: no characteristic with alias 0x%04X", alias)
	}
	return c.WriteTo(h.Value, data)
}

// RequestMTUExchange injects the exchange request without waiting for the
// reply. Callers that care about the server's answer use ExchangeMTU.
func (c *Central) RequestMTUExchange(clientRxMTU uint16) {
	if c.connected.Load() {
		c.s.post(sd.ExchangeMTURequestEvent{Conn: c.conn, ClientRxMTU: clientRxMTU})
	}
}

// ExchangeMTU performs an MTU exchange and returns the server's reply, or
// 0 if none arrives within a second.
func (c *Central) ExchangeMTU(clientRxMTU uint16) uint16 {
	if !c.connected.Load() {
		return 0
	}
	c.s.post(sd.ExchangeMTURequestEvent{Conn: c.conn, ClientRxMTU: clientRxMTU})
	select {
	case v := <-c.mtuReply:
		return v
	case <-time.After(time.Second):
		return 0
	}
}

// RequestPairing opens a security parameters exchange and returns the
// peripheral's status reply, or 0 on timeout.
func (c *Central) RequestPairing() byte {
	if !c.connected.Load() {
		return 0
	}
	c.s.post(sd.SecParamsRequestEvent{Conn: c.conn})
	select {
	case v := <-c.secReply:
		return v
	case <-time.After(time.Second):
		return 0
	}
}

// RequestPHYUpdate injects a PHY update request event.
func (c *Central) RequestPHYUpdate() {
	c.s.post(sd.PHYUpdateRequestEvent{Conn: c.conn})
}

// RequestSystemAttributes injects a missing-system-attributes event.
func (c *Central) RequestSystemAttributes() {
	c.s.post(sd.SysAttrMissingEvent{Conn: c.conn})
}

// InjectGATTTimeout injects a GATT procedure timeout, server or client side.
func (c *Central) InjectGATTTimeout(server bool) {
	if server {
		c.s.post(sd.GATTServerTimeoutEvent{Conn: c.conn})
		return
	}
	c.s.post(sd.GATTClientTimeoutEvent{Conn: c.conn})
}

// Disconnect drops the link from the central's side.
func (c *Central) Disconnect(reason byte) {
	c.s.mu.Lock()
	if c.s.link != c {
		c.s.mu.Unlock()
		return
	}
	c.s.link = nil
	c.s.mu.Unlock()

	c.connected.Store(false)
	c.s.tracef("gap", "central disconnected, reason 0x%02X", reason)
	c.s.post(sd.DisconnectedEvent{Conn: c.conn, Reason: reason})
}

// Notifications returns the stream of notification payloads the central
// has received.
func (c *Central) Notifications() <-chan []byte {
	return c.notifs
}
