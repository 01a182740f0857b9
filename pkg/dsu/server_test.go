package dsu

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testSlots map[uint8]bool

func (s testSlots) Connected(slot uint8) bool {
	return s[slot]
}

type testClient struct {
	t    *testing.T
	conn net.PacketConn
	addr net.Addr
}

func startServer(t *testing.T, slots SlotSource, setup ...func(srv *Server)) (*Server, *testClient, chan error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.Nil(t, err)

	errs := make(chan error, 10)

	srv := NewServer(slots, 4)
	srv.OnError = func(_ net.Addr, err error) {
		errs <- err
	}
	for _, f := range setup {
		f(srv)
	}
	go func() {
		_ = srv.Serve(conn)
	}()

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.Nil(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = client.Close()
	})

	return srv, &testClient{t: t, conn: client, addr: conn.LocalAddr()}, errs
}

func (c *testClient) send(p Payload) {
	_, err := c.conn.WriteTo(Encode(OriginClient, 7, p), c.addr)
	require.Nil(c.t, err)
}

func (c *testClient) recv() *Packet {
	require.Nil(c.t, c.conn.SetReadDeadline(time.Now().Add(time.Second)))

	b := make([]byte, 2048)
	n, _, err := c.conn.ReadFrom(b)
	require.Nil(c.t, err)

	pkt, _, err := Decode(b[:n])
	require.Nil(c.t, err)
	require.Equal(c.t, OriginServer, pkt.Origin)
	return pkt
}

func (c *testClient) silent() {
	require.Nil(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

	b := make([]byte, 2048)
	_, _, err := c.conn.ReadFrom(b)
	require.Error(c.t, err)
}

func TestServerVersion(t *testing.T) {
	_, client, _ := startServer(t, testSlots{})

	client.send(&VersionRequest{})
	pkt := client.recv()
	require.Equal(t, &VersionResponse{Version: ProtocolVersion}, pkt.Payload)
}

func TestServerInfo(t *testing.T) {
	srv, client, _ := startServer(t, testSlots{1: true})

	client.send(&InfoRequest{Slots: []uint8{0, 1, 3}})

	for _, slot := range []uint8{0, 1, 3} {
		pkt := client.recv()
		require.Equal(t, srv.ID(), pkt.SenderID)

		info := pkt.Payload.(*InfoResponse)
		require.Equal(t, slot, info.Slot)
		if slot == 1 {
			require.Equal(t, StateConnected, info.State)
		} else {
			require.Equal(t, StateDisconnected, info.State)
		}
	}

	client.silent()
}

func TestServerSubscribe(t *testing.T) {
	srv, client, _ := startServer(t, testSlots{2: true})

	client.send(&DataRequest{Flags: RegisterSlot, Slot: 2})

	// subscription is registered asynchronously
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.subs) == 1
	}, time.Second, 10*time.Millisecond)

	require.Nil(t, srv.Publish(1, testControllerData())) // other slot
	require.Nil(t, srv.Publish(2, testControllerData()))

	pkt := client.recv()
	data := pkt.Payload.(*ControllerData)
	require.Equal(t, uint8(2), data.Slot)
	require.Equal(t, StateConnected, data.State)
	require.True(t, data.Connected)
	require.Equal(t, uint32(1), data.PacketNumber)
	require.Equal(t, testControllerData().Accel, data.Accel)

	require.Nil(t, srv.Publish(2, testControllerData()))
	pkt = client.recv()
	require.Equal(t, uint32(2), pkt.Payload.(*ControllerData).PacketNumber)

	require.Nil(t, srv.Reset(2))
	pkt = client.recv()
	data = pkt.Payload.(*ControllerData)
	require.Equal(t, StateDisconnected, data.State)
	require.False(t, data.Connected)

	_, ok := srv.Last(2)
	require.False(t, ok)
	last, ok := srv.Last(1)
	require.True(t, ok)
	require.Equal(t, uint8(1), last.Slot)
}

func TestServerSubscriptionExpires(t *testing.T) {
	srv, client, _ := startServer(t, testSlots{}, func(srv *Server) {
		srv.TTL = 50 * time.Millisecond
	})

	client.send(&DataRequest{Flags: RegisterSlot, Slot: 0})

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.subs) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	require.Nil(t, srv.Publish(0, testControllerData()))
	client.silent()

	srv.mu.Lock()
	require.Len(t, srv.subs, 0)
	srv.mu.Unlock()
}

func TestServerUnsupported(t *testing.T) {
	_, client, errs := startServer(t, testSlots{})

	// by MAC - must not crash, only report
	client.send(&DataRequest{Flags: RegisterMAC})
	require.ErrorIs(t, <-errs, ErrUnsupported)

	// broken checksum
	b := Encode(OriginClient, 7, &VersionRequest{})
	b[8] ^= 1
	_, err := client.conn.WriteTo(b, client.addr)
	require.Nil(t, err)
	require.ErrorIs(t, <-errs, ErrChecksum)

	// still alive
	client.send(&VersionRequest{})
	client.recv()
}

func TestServerConcurrentPublish(t *testing.T) {
	srv := NewServer(testSlots{}, 4)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(slot uint8) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = srv.Publish(slot, testControllerData())
			}
		}(uint8(i))
	}
	wg.Wait()

	for slot := uint8(0); slot < 4; slot++ {
		last, ok := srv.Last(slot)
		require.True(t, ok)
		require.Equal(t, slot, last.Slot)
	}
}
