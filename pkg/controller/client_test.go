package controller

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
	"github.com/stretchr/testify/require"
)

// testDialer - net.Pipe connections served by handler, nil handler means dial error
type testDialer struct {
	handlers []func(conn net.Conn)
	dials    int
	mu       sync.Mutex
}

func (d *testDialer) Dial(ctx context.Context, _ Endpoint) (net.Conn, error) {
	d.mu.Lock()
	i := d.dials
	d.dials++
	d.mu.Unlock()

	if i >= len(d.handlers) || d.handlers[i] == nil {
		return nil, errors.New("connection refused")
	}

	local, remote := net.Pipe()
	go d.handlers[i](remote)
	return local, nil
}

func (d *testDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// serveFrames answers pings and picks like server
func serveFrames(conn net.Conn) {
	defer conn.Close()

	rd := frame.NewReader(conn)
	wr := frame.NewWriter(conn)

	_ = wr.WriteMessage(&frame.ControllerInfo{Available: 0b1111})

	for {
		msg, err := rd.ReadMessage()
		if err != nil {
			return
		}
		switch msg := msg.(type) {
		case *frame.Ping:
			_ = wr.WriteMessage(&frame.Pong{Nonce: msg.Nonce})
		case *frame.PickController:
			info := &frame.ControllerInfo{Available: 0b1111 &^ (1 << msg.Slot), HasAssigned: true, Assigned: msg.Slot}
			_ = wr.WriteMessage(info)
		}
	}
}

// serveBroken - ready connection that fails with malformed frame
func serveBroken(conn net.Conn) {
	_, _ = conn.Write(frame.Header{Type: frame.TypeControllerInfo, Length: 1}.Marshal())
	_, _ = conn.Write([]byte{0})
	_ = conn.Close()
}

func waitState(t *testing.T, c *Client, states ...ClientState) {
	for _, state := range states {
		ev := waitEvent[StateEvent](t, c)
		require.Equal(t, state, ev.State, "want %s, got %s", state, ev.State)
	}
}

func waitEvent[T Event](t *testing.T, c *Client) T {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-c.Events():
			if ev, ok := event.(T); ok {
				return ev
			}
		case <-timeout:
			var ev T
			t.Fatalf("timeout waiting for %T", ev)
			return ev
		}
	}
}

func TestRetry(t *testing.T) {
	r := NewRetry()

	require.True(t, r.Failed())
	require.True(t, r.Failed())
	require.False(t, r.Failed())
	require.Equal(t, 3, r.Failures())

	r = NewRetry()
	require.True(t, r.Failed())
	r.Success()
	require.Equal(t, 0, r.Failures())
	require.True(t, r.Failed())
	require.Equal(t, 1, r.Failures())
}

func TestRetryCancelled(t *testing.T) {
	r := NewRetry()
	now := time.Now()

	require.False(t, r.Cancelled(now))

	r.Reconnect(now)
	require.True(t, r.Cancelled(now.Add(500*time.Millisecond)))
	// only once
	require.False(t, r.Cancelled(now.Add(600*time.Millisecond)))

	r.Reconnect(now)
	require.False(t, r.Cancelled(now.Add(1500*time.Millisecond)))
}

func TestPinger(t *testing.T) {
	p := NewPinger()

	now := time.Unix(100, 0)
	p.now = func() time.Time { return now }

	ping, err := p.Ping()
	require.Nil(t, err)
	require.NotEqual(t, frame.Nonce{}, ping.Nonce)

	ping2, err := p.Ping()
	require.Nil(t, err)
	require.NotEqual(t, ping.Nonce, ping2.Nonce)

	// stale pong for replaced ping
	_, ok := p.Pong(&frame.Pong{Nonce: ping.Nonce})
	require.False(t, ok)

	// pending ping is not corrupted
	pending, ok := p.Pending()
	require.True(t, ok)
	require.Equal(t, ping2.Nonce, pending.Nonce)

	now = now.Add(42 * time.Millisecond)
	rtt, ok := p.Pong(&frame.Pong{Nonce: ping2.Nonce})
	require.True(t, ok)
	require.Equal(t, 42*time.Millisecond, rtt)

	// answered twice
	_, ok = p.Pong(&frame.Pong{Nonce: ping2.Nonce})
	require.False(t, ok)
}

func TestClientReconnectCap(t *testing.T) {
	d := &testDialer{}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	defer c.Close()

	c.Start()
	waitState(t, c,
		ClientConnecting, ClientFailed,
		ClientConnecting, ClientFailed,
		ClientConnecting, ClientFailed,
		ClientDisconnected,
	)
	require.Equal(t, 3, d.count())

	// manual reconnect starts fresh count
	c.Reconnect()
	waitState(t, c, ClientConnecting, ClientFailed)
}

func TestClientSuccessResetsFailures(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){nil, serveBroken}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	defer c.Close()

	c.Start()
	waitState(t, c,
		ClientConnecting, ClientFailed,
		ClientConnecting, ClientReady, ClientFailed, // count starts from 1 again
		ClientConnecting, ClientFailed,
		ClientConnecting, ClientFailed,
		ClientDisconnected,
	)
	require.Equal(t, 4, d.count())
}

func TestClientPing(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){serveFrames}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	c.PingInterval = 20 * time.Millisecond
	defer c.Close()

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)

	ev := waitEvent[RTTEvent](t, c)
	require.True(t, ev.Known)
	require.Greater(t, ev.RTT, time.Duration(0))
}

func TestClientZeroPingInterval(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){serveFrames}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	c.PingInterval = 0
	defer c.Close()

	require.Equal(t, DefaultPingInterval, c.pingInterval())

	// keepalive starts with default interval instead of panic
	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, ClientReady, c.State())
}

func TestClientPingMismatch(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){func(conn net.Conn) {
		defer conn.Close()
		rd := frame.NewReader(conn)
		wr := frame.NewWriter(conn)
		for {
			msg, err := rd.ReadMessage()
			if err != nil {
				return
			}
			if ping, ok := msg.(*frame.Ping); ok {
				_ = wr.WriteMessage(&frame.Pong{Nonce: frame.Nonce{0xFF}})
				_ = wr.WriteMessage(&frame.Pong{Nonce: ping.Nonce})
			}
		}
	}}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	c.PingInterval = 50 * time.Millisecond
	defer c.Close()

	c.Start()

	ev := waitEvent[RTTEvent](t, c)
	require.False(t, ev.Known)
	ev = waitEvent[RTTEvent](t, c)
	require.True(t, ev.Known)
	require.Equal(t, ClientReady, c.State())
}

func TestClientRepick(t *testing.T) {
	picks := make(chan uint8, 10)

	serve := func(conn net.Conn) {
		defer conn.Close()
		rd := frame.NewReader(conn)
		wr := frame.NewWriter(conn)
		for {
			msg, err := rd.ReadMessage()
			if err != nil {
				return
			}
			if pick, ok := msg.(*frame.PickController); ok {
				picks <- pick.Slot
				_ = wr.WriteMessage(&frame.ControllerInfo{HasAssigned: true, Assigned: pick.Slot})
			}
		}
	}

	d := &testDialer{handlers: []func(net.Conn){serve, serve}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	defer c.Close()

	// not ready yet
	require.ErrorIs(t, c.Pick(2), ErrNotReady)
	c.Send("PRESS A") // silently dropped

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)

	require.Nil(t, c.Pick(2))
	require.Equal(t, uint8(2), <-picks)

	info := waitEvent[InfoEvent](t, c)
	require.Equal(t, uint8(2), info.Info.Assigned)
	slot, ok := c.Slot()
	require.True(t, ok)
	require.Equal(t, uint8(2), slot)

	// manual reconnect, cancellation is transient
	c.Reconnect()
	waitState(t, c, ClientCancelled, ClientConnecting, ClientReady)

	// cached slot requested again
	require.Equal(t, uint8(2), <-picks)
	require.Equal(t, 2, d.count())
}

func TestClientRemoteClose(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){func(conn net.Conn) {
		_ = conn.Close()
	}}}
	c := NewClient(HostPort("127.0.0.1", 1), d)
	defer c.Close()

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady, ClientCancelled)

	// no auto retry
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, d.count())
	require.Equal(t, ClientCancelled, c.State())
}

func TestClientStore(t *testing.T) {
	saved := make(chan Endpoint, 1)

	endpoint := HostPort("192.168.1.10", 55555)

	d := &testDialer{handlers: []func(net.Conn){serveFrames}}
	c := NewClient(endpoint, d)
	c.Store = EndpointStoreFunc(func(e Endpoint) error {
		saved <- e
		return nil
	})
	defer c.Close()

	c.Start()
	require.Equal(t, endpoint, <-saved)
}

func TestClientClose(t *testing.T) {
	d := &testDialer{handlers: []func(net.Conn){serveFrames}}
	c := NewClient(HostPort("127.0.0.1", 1), d)

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)

	require.Nil(t, c.Close())
	require.Nil(t, c.Close())
	require.Equal(t, ClientCancelled, c.State())

	// drain, channel is closed
	for range c.Events() {
	}

	c.Reconnect()
	require.Equal(t, 1, d.count())
}
