package controller

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/internal/api"
	"github.com/apexskier/dolphin-controller-sub000/internal/api/ws"
	"github.com/apexskier/dolphin-controller-sub000/internal/app"
	"github.com/apexskier/dolphin-controller-sub000/pkg/controller"
	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen       string        `yaml:"listen" json:"listen"`
			Passcode     string        `yaml:"passcode" json:"-"`
			Identity     string        `yaml:"identity" json:"identity"`
			Slots        uint8         `yaml:"slots" json:"slots"`
			Queue        int           `yaml:"queue" json:"queue"`
			Pipes        string        `yaml:"pipes" json:"pipes,omitempty"`
			ReadTimeout  time.Duration `yaml:"read_timeout" json:"-"`
			WriteTimeout time.Duration `yaml:"write_timeout" json:"-"`
		} `yaml:"controller"`
	}

	// default config
	cfg.Mod.Listen = ":0"
	cfg.Mod.Identity = secure.DefaultIdentity
	cfg.Mod.Slots = controller.DefaultSlots
	cfg.Mod.Queue = controller.DefaultQueueSize
	cfg.Mod.WriteTimeout = 5 * time.Second

	app.LoadConfig(&cfg)

	log = app.GetLogger("controller")

	app.AddSecret(cfg.Mod.Passcode)
	if cfg.Mod.Passcode == "" {
		log.Warn().Msg("[controller] empty passcode")
	}

	Registry = controller.NewRegistry(cfg.Mod.Slots)
	Registry.OnSendError = func(peer controller.Peer, err error) {
		log.Debug().Err(err).Str("id", peer.ID()).Msg("[controller] send info")
	}

	if cfg.Mod.Pipes != "" {
		pipes = controller.NewPipeSink(cfg.Mod.Pipes)
		sink = pipes
	} else {
		sink = controller.SinkFunc(logCommand)
	}

	api.HandleFunc("api/controllers", apiControllers)
	ws.HandleFunc("controllers", wsControllers)

	if cfg.Mod.Listen == "" {
		return
	}

	ln, err := net.Listen("tcp", cfg.Mod.Listen)
	if err != nil {
		log.Error().Err(err).Msg("[controller] listen")
		return
	}

	Port = ln.Addr().(*net.TCPAddr).Port

	log.Info().Str("addr", ln.Addr().String()).Msg("[controller] listen")

	Server = newServer(secure.Config{
		Passcode: cfg.Mod.Passcode,
		Identity: cfg.Mod.Identity,
	}, cfg.Mod.Queue)
	Server.ReadTimeout = cfg.Mod.ReadTimeout
	Server.WriteTimeout = cfg.Mod.WriteTimeout

	api.SetInfo("controller", map[string]any{
		"port":  Port,
		"slots": Registry.Size(),
	})

	go func() {
		if err := Server.Serve(ln); err != nil {
			log.Error().Err(err).Msg("[controller] serve")
		}
	}()
}

var Registry *controller.Registry
var Server *controller.Server
var Port int

// HandleData adds receiver of motion reports from every assigned slot
func HandleData(handler controller.ControllerDataSink) {
	dataMu.Lock()
	dataHandlers = append(dataHandlers, handler)
	dataMu.Unlock()
}

func Close() error {
	var errs []error
	if Server != nil {
		errs = append(errs, Server.Close())
	}
	if pipes != nil {
		errs = append(errs, pipes.Close())
	}
	return errors.Join(errs...)
}

var log zerolog.Logger

var (
	sink         controller.Sink
	pipes        *controller.PipeSink
	dataHandlers []controller.ControllerDataSink
	dataMu       sync.Mutex
)

func newServer(sc secure.Config, queue int) *controller.Server {
	srv := controller.NewServer(Registry, sc)
	srv.Sink = sink
	srv.Data = publisher{}
	srv.QueueSize = queue

	srv.OnConn = func(c *controller.Conn) {
		log.Debug().Str("id", c.ID()).Stringer("addr", c.RemoteAddr()).Msg("[controller] connected")
	}
	srv.OnClose = func(c *controller.Conn, err error) {
		if err != nil && !errors.Is(err, io.EOF) {
			log.Warn().Err(err).Str("id", c.ID()).Msg("[controller] session")
		} else {
			log.Debug().Str("id", c.ID()).Msg("[controller] disconnected")
		}
	}
	srv.OnError = func(c *controller.Conn, err error) {
		if c == nil {
			log.Warn().Err(err).Msg("[controller] handshake")
			return
		}
		log.Warn().Err(err).Str("id", c.ID()).Msg("[controller]")
	}

	return srv
}

func logCommand(slot uint8, line string) error {
	log.Info().Uint8("slot", slot).Str("line", line).Msg("[controller] command")
	return nil
}

// publisher fans out motion reports to data handlers
type publisher struct{}

func (publisher) Publish(slot uint8, data *dsu.ControllerData) error {
	dataMu.Lock()
	handlers := dataHandlers
	dataMu.Unlock()

	var errs []error
	for _, handler := range handlers {
		errs = append(errs, handler.Publish(slot, data))
	}
	return errors.Join(errs...)
}

func apiControllers(w http.ResponseWriter, r *http.Request) {
	if Registry == nil {
		http.Error(w, "controller module disabled", http.StatusNotFound)
		return
	}

	switch r.Method {
	case "GET":
		api.ResponsePrettyJSON(w, Registry.Status())

	case "DELETE":
		// kick session by id
		id := r.URL.Query().Get("id")
		if Server != nil {
			for _, c := range Server.Conns() {
				if c.ID() == id {
					_ = c.Close()
					api.Response(w, "OK", api.MimeText)
					return
				}
			}
		}
		http.Error(w, "session not found", http.StatusNotFound)

	default:
		http.Error(w, "Method not allowed", http.StatusBadRequest)
	}
}

func wsControllers(tr *ws.Transport, _ *ws.Message) error {
	if Registry == nil {
		return errors.New("controller module disabled")
	}

	ch, cancel := Registry.Subscribe()
	if !tr.Subscribe("controllers", cancel) {
		cancel() // already streaming to this client
		return nil
	}

	for st := range ch {
		tr.Write(&ws.Message{Type: "controllers", Value: st})
	}
	return nil
}
