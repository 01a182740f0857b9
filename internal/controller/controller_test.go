package controller

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/internal/api/ws"
	"github.com/apexskier/dolphin-controller-sub000/pkg/controller"
	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/frame"
	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
	"github.com/stretchr/testify/require"
)

type testPeer string

func (p testPeer) ID() string               { return string(p) }
func (p testPeer) Send(frame.Message) error { return nil }

type testData struct {
	slots []uint8
	mu    sync.Mutex
}

func (d *testData) Publish(slot uint8, _ *dsu.ControllerData) error {
	d.mu.Lock()
	d.slots = append(d.slots, slot)
	d.mu.Unlock()
	return nil
}

func (d *testData) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

func resetModule(t *testing.T) {
	Registry = controller.NewRegistry(4)
	Server = nil
	sink = controller.SinkFunc(logCommand)

	dataMu.Lock()
	dataHandlers = nil
	dataMu.Unlock()

	t.Cleanup(func() {
		_ = Close()
		Registry = nil
		Server = nil
	})
}

func TestAPIControllers(t *testing.T) {
	resetModule(t)

	Registry.Add(testPeer("a"))
	require.Nil(t, Registry.Pick(testPeer("a"), 2))

	w := httptest.NewRecorder()
	apiControllers(w, httptest.NewRequest("GET", "/api/controllers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var st controller.Status
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, uint8(0b1011), st.Available)
	require.Equal(t, 1, st.Sessions)
	require.Len(t, st.Slots, 4)
	require.Equal(t, "a", st.Slots[2].Session)

	w = httptest.NewRecorder()
	apiControllers(w, httptest.NewRequest("DELETE", "/api/controllers?id=nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWSControllers(t *testing.T) {
	resetModule(t)

	msgs := make(chan *ws.Message, 10)

	tr := &ws.Transport{}
	tr.OnWrite(func(msg any) error {
		msgs <- msg.(*ws.Message)
		return nil
	})

	done := make(chan error)
	go func() {
		done <- wsControllers(tr, &ws.Message{Type: "controllers"})
	}()

	msg := <-msgs
	require.Equal(t, "controllers", msg.Type)
	require.Equal(t, uint8(0b1111), msg.Value.(controller.Status).Available)

	Registry.Add(testPeer("a"))
	require.Nil(t, Registry.Pick(testPeer("a"), 0))

	// intermediate states may be merged
	require.Eventually(t, func() bool {
		for {
			select {
			case msg = <-msgs:
				if msg.Value.(controller.Status).Available == 0b1110 {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)

	// second request on same client doesn't start another stream
	require.Nil(t, wsControllers(tr, &ws.Message{Type: "controllers"}))

	tr.Close()

	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler not finished")
	}
}

func TestPublisher(t *testing.T) {
	resetModule(t)

	d1, d2 := &testData{}, &testData{}
	HandleData(d1)
	HandleData(d2)

	require.Nil(t, publisher{}.Publish(3, &dsu.ControllerData{}))
	require.Equal(t, []uint8{3}, d1.slots)
	require.Equal(t, []uint8{3}, d2.slots)
}

func TestServerSession(t *testing.T) {
	resetModule(t)

	data := &testData{}
	HandleData(data)

	lines := make(chan string, 1)
	sink = controller.SinkFunc(func(slot uint8, line string) error {
		lines <- line
		return nil
	})

	cfg := secure.Config{Passcode: "dolphin"}
	Server = newServer(cfg, 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	go func() {
		_ = Server.Serve(ln)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := controller.NewClient(controller.HostPort("127.0.0.1", uint16(port)), &controller.NetDialer{Secure: cfg})
	defer c.Close()
	c.Start()

	require.Eventually(t, func() bool {
		return c.State() == controller.ClientReady
	}, 5*time.Second, 10*time.Millisecond)

	require.Nil(t, c.Pick(1))
	require.Eventually(t, func() bool {
		return Registry.Connected(1)
	}, 2*time.Second, 10*time.Millisecond)

	c.Send("PRESS A")
	select {
	case line := <-lines:
		require.Equal(t, "PRESS A", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no command")
	}

	c.SendControllerData(&dsu.ControllerData{Connected: true})
	require.Eventually(t, func() bool {
		return data.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// kick session from api
	id := Server.Conns()[0].ID()
	w := httptest.NewRecorder()
	apiControllers(w, httptest.NewRequest("DELETE", "/api/controllers?id="+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		for _, conn := range Server.Conns() {
			if conn.ID() == id {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
