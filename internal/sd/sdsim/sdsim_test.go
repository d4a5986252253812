package sdsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silwitch/replink/internal/sd"
)

func newStack(t *testing.T, opts Options) *Stack {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

// registerUART sets up the service shape the transport registers, so the
// stack tests exercise the same table.
func registerUART(t *testing.T, s *Stack) (rx, tx sd.CharHandles) {
	t.Helper()
	base, err := sd.ParseBase("6E400000-B5A3-F393-E0A9-E50E24DCCA9E")
	require.NoError(t, err)
	typ, err := s.RegisterVendorUUID(base)
	require.NoError(t, err)

	svc, err := s.AddService(sd.UUID{Alias: 0x0001, Type: typ})
	require.NoError(t, err)

	rx, err = s.AddCharacteristic(svc, sd.CharParams{
		UUID:   sd.UUID{Alias: 0x0002, Type: typ},
		Props:  sd.CharProps{Write: true, WriteNoResp: true},
		MaxLen: 125,
	})
	require.NoError(t, err)

	tx, err = s.AddCharacteristic(svc, sd.CharParams{
		UUID:   sd.UUID{Alias: 0x0003, Type: typ},
		Props:  sd.CharProps{Notify: true},
		MaxLen: 125,
	})
	require.NoError(t, err)
	return rx, tx
}

func startAdvertising(t *testing.T, s *Stack) {
	t.Helper()
	h, err := s.ConfigureAdvertising([]byte{0x02, 0x01, 0x06}, sd.AdvParams{Interval: 32})
	require.NoError(t, err)
	require.NoError(t, s.StartAdvertising(h))
}

func TestConnectRequiresAdvertising(t *testing.T) {
	s := newStack(t, Options{})
	_, err := s.Connect()
	assert.Error(t, err)

	registerUART(t, s)
	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)
	assert.True(t, c.Connected())
	assert.False(t, s.Advertising(), "advertising must stop on connect")
}

func TestWriteRouting(t *testing.T) {
	s := newStack(t, Options{})
	rx, _ := registerUART(t, s)
	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)

	// Drain the connect event first.
	ev, err := s.NextEvent()
	require.NoError(t, err)
	assert.IsType(t, sd.ConnectedEvent{}, ev)

	require.NoError(t, c.WriteAlias(0x0002, []byte("1+1\r")))
	ev, err = s.NextEvent()
	require.NoError(t, err)
	w, ok := ev.(sd.WriteEvent)
	require.True(t, ok)
	assert.Equal(t, rx.Value, w.Handle)
	assert.Equal(t, []byte("1+1\r"), w.Data)

	_, err = s.NextEvent()
	assert.ErrorIs(t, err, sd.ErrNotFound, "drained queue must report not found")
}

func TestNotifyPaths(t *testing.T) {
	s := newStack(t, Options{HVNDepth: 1, ConnInterval: 5 * time.Millisecond})
	_, tx := registerUART(t, s)

	// No link at all.
	assert.ErrorIs(t, s.Notify(0, tx.Value, []byte("x")), sd.ErrInvalidState)

	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)

	// Wrong handle for the link.
	assert.ErrorIs(t, s.Notify(c.Conn()+1, tx.Value, []byte("x")), sd.ErrInvalidConnHandle)

	// First submission queued, second rejected while the queue is full.
	require.NoError(t, s.Notify(c.Conn(), tx.Value, []byte("one")))
	err = s.Notify(c.Conn(), tx.Value, []byte("two"))
	assert.ErrorIs(t, err, sd.ErrResources)

	// The housekeeping tick drains the queue and delivers.
	select {
	case data := <-c.Notifications():
		assert.Equal(t, []byte("one"), data)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	// And the queue accepts again.
	assert.NoError(t, s.Notify(c.Conn(), tx.Value, []byte("two")))
}

func TestMTUExchange(t *testing.T) {
	s := newStack(t, Options{})
	registerUART(t, s)
	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)

	done := make(chan uint16, 1)
	go func() { done <- c.ExchangeMTU(64) }()

	// Serve the request like the transport would.
	deadline := time.After(time.Second)
	for {
		ev, err := s.NextEvent()
		if err == nil {
			if req, ok := ev.(sd.ExchangeMTURequestEvent); ok {
				require.NoError(t, s.ExchangeMTUReply(req.Conn, 128))
				break
			}
			continue
		}
		select {
		case <-deadline:
			t.Fatal("MTU request never arrived")
		case <-time.After(time.Millisecond):
		}
	}

	assert.Equal(t, uint16(128), <-done)
}

func TestLocalDisconnectPostsEvent(t *testing.T) {
	s := newStack(t, Options{})
	registerUART(t, s)
	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)

	// Drop the connect event.
	_, err = s.NextEvent()
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(c.Conn(), sd.ReasonRemoteUserTerminated))
	assert.False(t, c.Connected())

	ev, err := s.NextEvent()
	require.NoError(t, err)
	d, ok := ev.(sd.DisconnectedEvent)
	require.True(t, ok)
	assert.Equal(t, sd.ReasonRemoteUserTerminated, d.Reason)
}

func TestAdvertisingPayloadLimit(t *testing.T) {
	s := newStack(t, Options{})
	_, err := s.ConfigureAdvertising(make([]byte, 32), sd.AdvParams{})
	assert.Error(t, err, "payload above 31 bytes must be rejected")
}

func TestSignalPulsesOnEvent(t *testing.T) {
	s := newStack(t, Options{})
	registerUART(t, s)
	startAdvertising(t, s)
	_, err := s.Connect()
	require.NoError(t, err)

	select {
	case <-s.Signal():
	case <-time.After(time.Second):
		t.Fatal("signal line never pulsed")
	}
}

func TestEventQueueOverflowDropsOldest(t *testing.T) {
	s := newStack(t, Options{EventDepth: 2})
	registerUART(t, s)
	startAdvertising(t, s)
	c, err := s.Connect()
	require.NoError(t, err)

	// Queue: [Connected]. Two writes overflow it; Connected is sacrificed.
	require.NoError(t, c.WriteAlias(0x0002, []byte("a")))
	require.NoError(t, c.WriteAlias(0x0002, []byte("b")))

	ev, err := s.NextEvent()
	require.NoError(t, err)
	assert.IsType(t, sd.WriteEvent{}, ev)
}
