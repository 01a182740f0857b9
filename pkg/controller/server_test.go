package controller

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg secure.Config, setup ...func(srv *Server)) (*Server, Endpoint) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	srv := NewServer(NewRegistry(4), cfg)
	srv.HandshakeTimeout = 3 * time.Second
	for _, f := range setup {
		f(srv)
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	port := ln.Addr().(*net.TCPAddr).Port
	return srv, HostPort("127.0.0.1", uint16(port))
}

func TestServerClient(t *testing.T) {
	cfg := secure.Config{Passcode: "dolphin"}

	sink := &testSink{}

	srv, endpoint := startServer(t, cfg, func(srv *Server) {
		srv.Sink = sink
	})

	c := NewClient(endpoint, &NetDialer{Secure: cfg})
	defer c.Close()

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)

	info := waitEvent[InfoEvent](t, c)
	require.Equal(t, uint8(0b1111), info.Info.Available)

	require.Nil(t, c.Pick(1))
	info = waitEvent[InfoEvent](t, c)
	require.Equal(t, uint8(0b1101), info.Info.Available)
	require.True(t, info.Info.HasAssigned)

	c.Send("PRESS A")
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.lines) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, srv.Conns(), 1)
	require.True(t, srv.Registry.Connected(1))
}

func TestServerWrongPasscode(t *testing.T) {
	var mu sync.Mutex
	var handshakeErr error

	srv, endpoint := startServer(t, secure.Config{Passcode: "dolphin"}, func(srv *Server) {
		srv.OnError = func(c *Conn, err error) {
			mu.Lock()
			handshakeErr = err
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	d := &NetDialer{Secure: secure.Config{Passcode: "wrong"}}
	_, err := d.Dial(ctx, endpoint)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handshakeErr != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, srv.Conns(), 0)
}

func TestServerClose(t *testing.T) {
	cfg := secure.Config{Passcode: "dolphin"}

	closed := make(chan struct{})

	srv, endpoint := startServer(t, cfg, func(srv *Server) {
		srv.OnClose = func(c *Conn, err error) {
			close(closed)
		}
	})

	dialer := &countDialer{Dialer: &NetDialer{Secure: cfg}}
	c := NewClient(endpoint, dialer)
	defer c.Close()

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)
	require.Nil(t, c.Pick(0))
	waitEvent[InfoEvent](t, c)

	require.Eventually(t, func() bool {
		return srv.Registry.Connected(0)
	}, time.Second, 10*time.Millisecond)

	require.Nil(t, srv.Close())
	<-closed

	require.False(t, srv.Registry.Connected(0))
	require.Len(t, srv.Conns(), 0)

	// graceful close from server is not a failure, client doesn't redial
	ev := waitEvent[StateEvent](t, c)
	require.Equal(t, ClientCancelled, ev.State)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, ClientCancelled, c.State())
	require.Equal(t, int32(1), dialer.dials.Load())
}

type countDialer struct {
	Dialer
	dials atomic.Int32
}

func (d *countDialer) Dial(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	d.dials.Add(1)
	return d.Dialer.Dial(ctx, endpoint)
}

func TestServerLargeCommand(t *testing.T) {
	cfg := secure.Config{Passcode: "dolphin"}

	sink := &testSink{}

	_, endpoint := startServer(t, cfg, func(srv *Server) {
		srv.Sink = sink
	})

	c := NewClient(endpoint, &NetDialer{Secure: cfg})
	defer c.Close()

	c.Start()
	waitState(t, c, ClientConnecting, ClientReady)
	require.Nil(t, c.Pick(0))

	require.Eventually(t, func() bool {
		slot, ok := c.Slot()
		return ok && slot == 0
	}, 2*time.Second, 10*time.Millisecond)

	// several DTLS records for one frame
	line := strings.Repeat("A", 9000)
	c.Send(line)
	c.Send("PRESS B")

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.lines) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	require.Equal(t, []string{line, "PRESS B"}, sink.lines)
	sink.mu.Unlock()

	require.Equal(t, ClientReady, c.State())
}
