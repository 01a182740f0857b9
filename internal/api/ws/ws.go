package ws

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/internal/api"
	"github.com/apexskier/dolphin-controller-sub000/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Origin string `yaml:"origin"`
		} `yaml:"api"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("api")

	initWS(cfg.Mod.Origin)

	api.HandleFunc("api/ws", apiWS)
}

var log zerolog.Logger

// Message - struct for data exchange in Web API
type Message struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	Raw   []byte `json:"-"`
}

func (m *Message) String() (value string) {
	_ = json.Unmarshal(m.Raw, &value)
	return
}

func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Raw, v)
}

type WSHandler func(tr *Transport, msg *Message) error

func HandleFunc(msgType string, handler WSHandler) {
	handlersMu.Lock()
	wsHandlers[msgType] = handler
	handlersMu.Unlock()
}

var wsHandlers = make(map[string]WSHandler)
var handlersMu sync.RWMutex

func handler(msgType string) WSHandler {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	return wsHandlers[msgType]
}

var wsUp *websocket.Upgrader

func initWS(origin string) {
	wsUp = &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	switch origin {
	case "":
		// same origin + ignore port
		wsUp.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header["Origin"]
			if len(origin) == 0 {
				return true
			}
			o, err := url.Parse(origin[0])
			if err != nil {
				return false
			}
			if o.Host == r.Host {
				return true
			}
			log.Trace().Msgf("[api] ws origin=%s, host=%s", o.Host, r.Host)
			if i := strings.IndexByte(o.Host, ':'); i > 0 {
				return o.Host[:i] == r.Host
			}
			return false
		}
	case "*":
		// any origin
		wsUp.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

func apiWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUp.Upgrade(w, r, nil)
	if err != nil {
		origin := r.Header.Get("Origin")
		log.Error().Err(err).Caller().Msgf("host=%s origin=%s", r.Host, origin)
		return
	}

	tr := &Transport{Request: r}
	tr.OnWrite(func(msg any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(time.Second * 5))
		return ws.WriteJSON(msg)
	})

	for {
		var raw struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err = ws.ReadJSON(&raw); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
				log.Trace().Err(err).Caller().Send()
			}
			break
		}

		dispatch(tr, &Message{Type: raw.Type, Raw: raw.Value})
	}

	// stop streams before socket, so no writes go to closed conn
	tr.Close()
	_ = ws.Close()
}

// dispatch runs handler in own goroutine, streaming handlers block until unsubscribe
func dispatch(tr *Transport, msg *Message) {
	log.Trace().Str("type", msg.Type).Str("remote", tr.remote()).Msg("[api] ws msg")

	if msg.Type == "unsubscribe" {
		tr.Unsubscribe(msg.String())
		return
	}

	h := handler(msg.Type)
	if h == nil {
		tr.Write(&Message{Type: "error", Value: "unknown type: " + msg.Type})
		return
	}

	go func() {
		if err := h(tr, msg); err != nil {
			tr.Write(&Message{Type: "error", Value: msg.Type + ": " + err.Error()})
		}
	}()
}

// Transport - one websocket client. Handlers write to it from their own goroutines,
// streaming handlers register under a name, one stream per name.
type Transport struct {
	Request *http.Request

	closed  bool
	streams map[string]func()
	onClose []func()
	mx      sync.Mutex
	wrmx    sync.Mutex

	onWrite func(msg any) error
}

func (t *Transport) OnWrite(f func(msg any) error) {
	t.mx.Lock()
	t.onWrite = f
	t.mx.Unlock()
}

// Write drops msg after Close
func (t *Transport) Write(msg any) {
	t.mx.Lock()
	f := t.onWrite
	closed := t.closed
	t.mx.Unlock()

	if closed || f == nil {
		return
	}

	t.wrmx.Lock()
	_ = f(msg)
	t.wrmx.Unlock()
}

// Subscribe registers cancel for stream name. Returns false when the stream
// already runs or transport closed, caller should stop then.
func (t *Transport) Subscribe(name string, cancel func()) bool {
	t.mx.Lock()
	defer t.mx.Unlock()

	if t.closed {
		return false
	}
	if _, ok := t.streams[name]; ok {
		return false
	}
	if t.streams == nil {
		t.streams = map[string]func(){}
	}
	t.streams[name] = cancel
	return true
}

// Unsubscribe stops stream name, unknown name is ignored
func (t *Transport) Unsubscribe(name string) {
	t.mx.Lock()
	cancel := t.streams[name]
	delete(t.streams, name)
	t.mx.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (t *Transport) Close() {
	t.mx.Lock()
	if t.closed {
		t.mx.Unlock()
		return
	}
	t.closed = true
	streams := t.streams
	onClose := t.onClose
	t.streams = nil
	t.onClose = nil
	t.mx.Unlock()

	for _, cancel := range streams {
		cancel()
	}
	for _, f := range onClose {
		f()
	}
}

// OnClose runs f immediately when transport already closed
func (t *Transport) OnClose(f func()) {
	t.mx.Lock()
	if !t.closed {
		t.onClose = append(t.onClose, f)
		t.mx.Unlock()
		return
	}
	t.mx.Unlock()
	f()
}

func (t *Transport) remote() string {
	if t.Request == nil {
		return ""
	}
	return t.Request.RemoteAddr
}
