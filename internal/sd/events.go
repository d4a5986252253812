package sd

// Event is one entry pulled from the stack's event queue. The concrete
// types below mirror the vendor stack's event set one-to-one; the transport
// ignores anything it does not recognize.
type Event interface {
	isEvent()
}

// ConnectedEvent reports a central has connected.
type ConnectedEvent struct {
	Conn uint16
}

// DisconnectedEvent reports the link is gone.
type DisconnectedEvent struct {
	Conn   uint16
	Reason byte
}

// PHYUpdateRequestEvent asks the peripheral to choose PHYs.
type PHYUpdateRequestEvent struct {
	Conn uint16
}

// ExchangeMTURequestEvent carries the client's desired receive MTU.
type ExchangeMTURequestEvent struct {
	Conn        uint16
	ClientRxMTU uint16
}

// WriteEvent carries data written to one of our attributes.
type WriteEvent struct {
	Conn   uint16
	Handle uint16
	Data   []byte
}

// GATTClientTimeoutEvent reports an unanswered GATT client procedure.
type GATTClientTimeoutEvent struct {
	Conn uint16
}

// GATTServerTimeoutEvent reports an unanswered GATT server procedure.
type GATTServerTimeoutEvent struct {
	Conn uint16
}

// SysAttrMissingEvent asks for persisted system attributes after a
// reconnection. With no bonding there is never anything to restore.
type SysAttrMissingEvent struct {
	Conn uint16
}

// SecParamsRequestEvent is the central opening a pairing exchange.
type SecParamsRequestEvent struct {
	Conn uint16
}

// FlashOpEvent reports completion of a stack-mediated flash operation.
// Reserved for a future filesystem; currently observed and ignored.
type FlashOpEvent struct {
	OK bool
}

func (ConnectedEvent) isEvent()          {}
func (DisconnectedEvent) isEvent()       {}
func (PHYUpdateRequestEvent) isEvent()   {}
func (ExchangeMTURequestEvent) isEvent() {}
func (WriteEvent) isEvent()              {}
func (GATTClientTimeoutEvent) isEvent()  {}
func (GATTServerTimeoutEvent) isEvent()  {}
func (SysAttrMissingEvent) isEvent()     {}
func (SecParamsRequestEvent) isEvent()   {}
func (FlashOpEvent) isEvent()            {}
