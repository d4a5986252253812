// Package sdsim is an in-memory stand-in for the vendor BLE stack. It keeps
// the same contract the radio firmware exposes on hardware: a polled event
// queue raised through a signal line, synchronous registration calls, a
// bounded notification TX queue that reports resource exhaustion when full,
// and a wait-for-event primitive that parks the caller until link activity.
//
// A Central handle drives the other end of the air interface, which is what
// the tests and the host binary both use.
package sdsim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/silwitch/replink/internal/groutine"
	"github.com/silwitch/replink/internal/sd"
)

// Options tunes the simulated stack. Zero values pick the hardware-like
// defaults: a one-deep notification queue and a 15ms connection interval.
type Options struct {
	DeviceAddress uint32
	EventDepth    int           // pending event queue, default 64
	HVNDepth      int           // notification TX queue, default 1
	ConnInterval  time.Duration // link housekeeping tick, default 15ms
	TraceDepth    uint32        // air-traffic trace ring, default 128
	Logger        *logrus.Logger
}

// TraceEntry is one record in the air-traffic trace. The trace ring
// overwrites its oldest entries, it exists for debugging and assertions,
// not for delivery.
type TraceEntry struct {
	When time.Time
	Kind string
	Info string
}

type attribute struct {
	uuid    sd.UUID
	props   sd.CharProps
	maxLen  uint16
	service uint16
	handles sd.CharHandles
}

type notification struct {
	conn   uint16
	handle uint16
	data   []byte
}

// Stack implements sd.Stack against an in-memory link.
type Stack struct {
	log  *logrus.Entry
	opts Options

	mu       sync.Mutex
	name     string
	ppcp     sd.ConnParams
	bases    []sd.UUID128
	services map[uint16]sd.UUID
	next     uint16

	attrs *hashmap.Map[uint16, *attribute]

	advPayload    []byte
	advParams     sd.AdvParams
	advConfigured bool
	advertising   bool
	advStarts     int

	link     *Central
	nextConn uint16

	events chan sd.Event
	signal chan struct{}
	wake   chan struct{}
	hvn    chan notification

	trace mpmc.RichOverlappedRingBuffer[TraceEntry]

	phyAccepted   atomic.Bool
	sysAttrsEmpty atomic.Bool
	connUpdates   atomic.Uint32

	cancel context.CancelFunc
}

// New builds a stack and starts its housekeeping context. Close releases it.
func New(opts Options) *Stack {
	if opts.EventDepth <= 0 {
		opts.EventDepth = 64
	}
	if opts.HVNDepth <= 0 {
		opts.HVNDepth = 1
	}
	if opts.ConnInterval <= 0 {
		opts.ConnInterval = 15 * time.Millisecond
	}
	if opts.TraceDepth == 0 {
		opts.TraceDepth = 128
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.PanicLevel)
	}
	if opts.DeviceAddress == 0 {
		// Fabricate a stable-enough hardware address register.
		id := uuid.New()
		opts.DeviceAddress = uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	}

	s := &Stack{
		log:      opts.Logger.WithField("component", "sdsim"),
		opts:     opts,
		services: make(map[uint16]sd.UUID),
		attrs:    hashmap.New[uint16, *attribute](),
		next:     0x000C, // handles below are reserved, like a real ATT table
		nextConn: 0,
		events:   make(chan sd.Event, opts.EventDepth),
		signal:   make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		hvn:      make(chan notification, opts.HVNDepth),
		trace:    mpmc.NewOverlappedRingBuffer[TraceEntry](opts.TraceDepth),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	groutine.Go(ctx, "sdsim-housekeeping", s.housekeeping)
	return s
}

// Close stops the housekeeping goroutine. Pending events stay readable.
func (s *Stack) Close() {
	s.cancel()
}

// housekeeping models the radio's periodic connection events: it drains the
// notification TX queue once per connection interval and wakes anything
// parked in WaitForEvent, the same way a real link produces at least
// periodic housekeeping interrupts.
func (s *Stack) housekeeping(ctx context.Context) {
	t := time.NewTicker(s.opts.ConnInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.drainHVN()
			pulse(s.wake)
		}
	}
}

func (s *Stack) drainHVN() {
	for {
		select {
		case n := <-s.hvn:
			s.deliver(n)
		default:
			return
		}
	}
}

func (s *Stack) deliver(n notification) {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != n.conn {
		s.tracef("drop", "notify for stale conn %d", n.conn)
		return
	}
	select {
	case link.notifs <- n.data:
		s.tracef("notify", "%d bytes", len(n.data))
	default:
		s.tracef("drop", "central notification queue full, %d bytes lost", len(n.data))
	}
}

func pulse(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// post queues an event, discarding the oldest pending one on overflow, and
// raises the signal line.
func (s *Stack) post(ev sd.Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
			s.tracef("drop", "event queue overflow")
		default:
		}
		s.events <- ev
	}
	pulse(s.signal)
	pulse(s.wake)
}

func (s *Stack) tracef(kind, format string, args ...interface{}) {
	s.trace.EnqueueM(TraceEntry{When: time.Now(), Kind: kind, Info: fmt.Sprintf(format, args...)})
}

// DeviceAddress implements sd.Stack.
func (s *Stack) DeviceAddress() uint32 {
	return s.opts.DeviceAddress
}

// SetDeviceName implements sd.Stack.
func (s *Stack) SetDeviceName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

// SetPreferredConnParams implements sd.Stack.
func (s *Stack) SetPreferredConnParams(p sd.ConnParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ppcp = p
	return nil
}

// PreferredConnParams implements sd.Stack.
func (s *Stack) PreferredConnParams() (sd.ConnParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ppcp, nil
}

// RegisterVendorUUID implements sd.Stack.
func (s *Stack) RegisterVendorUUID(base sd.UUID128) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases = append(s.bases, base)
	return uint8(len(s.bases)), nil // type 0 is reserved for SIG UUIDs
}

// AddService implements sd.Stack.
func (s *Stack) AddService(svc sd.UUID) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(svc.Type) > len(s.bases) {
		return 0, &sd.Error{Op: "AddService", Err: fmt.Errorf("unregistered UUID type %d", svc.Type)}
	}
	h := s.next
	s.next++
	s.services[h] = svc
	return h, nil
}

// AddCharacteristic implements sd.Stack.
func (s *Stack) AddCharacteristic(service uint16, p sd.CharParams) (sd.CharHandles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[service]; !ok {
		return sd.CharHandles{}, &sd.Error{Op: "AddCharacteristic", Err: fmt.Errorf("unknown service handle %d", service)}
	}
	s.next++ // declaration attribute
	handles := sd.CharHandles{Value: s.next}
	s.next++
	if p.Props.Notify {
		handles.CCCD = s.next
		s.next++
	}
	s.attrs.Set(handles.Value, &attribute{
		uuid:    p.UUID,
		props:   p.Props,
		maxLen:  p.MaxLen,
		service: service,
		handles: handles,
	})
	return handles, nil
}

// EncodeUUID implements sd.Stack.
func (s *Stack) EncodeUUID(u sd.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Type == 0 || int(u.Type) > len(s.bases) {
		return nil, &sd.Error{Op: "EncodeUUID", Err: fmt.Errorf("unregistered UUID type %d", u.Type)}
	}
	full := s.bases[u.Type-1].WithAlias(u.Alias)
	return full[:], nil
}

// ConfigureAdvertising implements sd.Stack.
func (s *Stack) ConfigureAdvertising(payload []byte, p sd.AdvParams) (uint8, error) {
	if len(payload) > sd.AdvPayloadMax {
		return sd.AdvHandleNotSet, &sd.Error{Op: "ConfigureAdvertising",
			Err: fmt.Errorf("payload %d bytes exceeds %d", len(payload), sd.AdvPayloadMax)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Referenced, not copied: the caller owns keeping it alive, the same
	// contract the hardware stack imposes.
	s.advPayload = payload
	s.advParams = p
	s.advConfigured = true
	return 0, nil
}

// StartAdvertising implements sd.Stack.
func (s *Stack) StartAdvertising(handle uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advConfigured || handle != 0 {
		return &sd.Error{Op: "StartAdvertising", Err: sd.ErrInvalidState}
	}
	if s.link != nil {
		return &sd.Error{Op: "StartAdvertising", Err: sd.ErrInvalidState}
	}
	s.advertising = true
	s.advStarts++
	s.tracef("adv", "started, %d byte payload", len(s.advPayload))
	return nil
}

// Notify implements sd.Stack. It may race a disconnect; stale handles are
// reported as benign errors, a full TX queue as ErrResources.
func (s *Stack) Notify(conn uint16, valueHandle uint16, data []byte) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()

	if link == nil {
		return sd.ErrInvalidState
	}
	if conn != link.conn {
		return sd.ErrInvalidConnHandle
	}
	if attr, ok := s.attrs.Get(valueHandle); !ok || !attr.props.Notify {
		return &sd.Error{Op: "Notify", Err: fmt.Errorf("handle %d is not notifiable", valueHandle)}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.hvn <- notification{conn: conn, handle: valueHandle, data: buf}:
		return nil
	default:
		return sd.ErrResources
	}
}

// ExchangeMTUReply implements sd.Stack.
func (s *Stack) ExchangeMTUReply(conn uint16, serverMTU uint16) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != conn {
		return sd.ErrInvalidConnHandle
	}
	select {
	case link.mtuReply <- serverMTU:
	default:
	}
	s.tracef("mtu", "server replied %d", serverMTU)
	return nil
}

// RequestConnParamUpdate implements sd.Stack.
func (s *Stack) RequestConnParamUpdate(conn uint16, p sd.ConnParams) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != conn {
		return sd.ErrInvalidConnHandle
	}
	s.connUpdates.Add(1)
	s.tracef("gap", "conn param update requested")
	return nil
}

// AcceptPHYUpdate implements sd.Stack.
func (s *Stack) AcceptPHYUpdate(conn uint16) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != conn {
		return sd.ErrInvalidConnHandle
	}
	s.phyAccepted.Store(true)
	return nil
}

// ReplySecurityParams implements sd.Stack.
func (s *Stack) ReplySecurityParams(conn uint16, status byte) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != conn {
		return sd.ErrInvalidConnHandle
	}
	select {
	case link.secReply <- status:
	default:
	}
	return nil
}

// SetSystemAttributes implements sd.Stack.
func (s *Stack) SetSystemAttributes(conn uint16, attrs []byte) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil || link.conn != conn {
		return sd.ErrInvalidConnHandle
	}
	s.sysAttrsEmpty.Store(len(attrs) == 0)
	return nil
}

// Disconnect implements sd.Stack. The stack confirms with a disconnected
// event, like the hardware does.
func (s *Stack) Disconnect(conn uint16, reason byte) error {
	s.mu.Lock()
	link := s.link
	if link == nil || link.conn != conn {
		s.mu.Unlock()
		return sd.ErrInvalidConnHandle
	}
	s.link = nil
	s.mu.Unlock()

	link.connected.Store(false)
	s.tracef("gap", "local disconnect, reason 0x%02X", reason)
	s.post(sd.DisconnectedEvent{Conn: conn, Reason: reason})
	return nil
}

// NextEvent implements sd.Stack.
func (s *Stack) NextEvent() (sd.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
		return nil, sd.ErrNotFound
	}
}

// Signal implements sd.Stack.
func (s *Stack) Signal() <-chan struct{} {
	return s.signal
}

// WaitForEvent implements sd.Stack. Wakes on any posted event and at least
// once per housekeeping interval.
func (s *Stack) WaitForEvent() {
	<-s.wake
}

// InjectFlashOp queues a flash operation completion event.
func (s *Stack) InjectFlashOp(ok bool) {
	s.post(sd.FlashOpEvent{OK: ok})
}

// Advertising reports whether the advertiser is currently running.
func (s *Stack) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// AdvStartCount counts StartAdvertising calls that succeeded.
func (s *Stack) AdvStartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advStarts
}

// AdvPayload returns the configured advertising payload.
func (s *Stack) AdvPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advPayload
}

// DeviceName returns the registered GAP device name.
func (s *Stack) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// ConnParamUpdates counts RequestConnParamUpdate calls.
func (s *Stack) ConnParamUpdates() uint32 {
	return s.connUpdates.Load()
}

// PHYAccepted reports whether an automatic PHY selection reply was sent.
func (s *Stack) PHYAccepted() bool {
	return s.phyAccepted.Load()
}

// SysAttrsEmptyReply reports whether empty system attributes were set.
func (s *Stack) SysAttrsEmptyReply() bool {
	return s.sysAttrsEmpty.Load()
}

// HandlesByAlias looks up the handles of the characteristic registered
// under a 16-bit alias. This is the sim's stand-in for service discovery.
func (s *Stack) HandlesByAlias(alias uint16) (sd.CharHandles, bool) {
	var out sd.CharHandles
	found := false
	s.attrs.Range(func(_ uint16, a *attribute) bool {
		if a.uuid.Alias == alias {
			out = a.handles
			found = true
			return false
		}
		return true
	})
	return out, found
}

// TraceEntries drains and returns the air-traffic trace.
func (s *Stack) TraceEntries() []TraceEntry {
	var out []TraceEntry
	for !s.trace.IsEmpty() {
		e, err := s.trace.Dequeue()
		if err != nil {
			break
		}
		out = append(out, e)
	}
	return out
}
