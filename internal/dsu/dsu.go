package dsu

import (
	"net"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/internal/api"
	"github.com/apexskier/dolphin-controller-sub000/internal/app"
	"github.com/apexskier/dolphin-controller-sub000/internal/controller"
	pkg "github.com/apexskier/dolphin-controller-sub000/pkg/controller"
	"github.com/apexskier/dolphin-controller-sub000/pkg/dsu"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen          string        `yaml:"listen" json:"listen"`
			VerifyCRC       bool          `yaml:"verify_crc" json:"verify_crc"`
			SubscriptionTTL time.Duration `yaml:"subscription_ttl" json:"subscription_ttl"`
		} `yaml:"dsu"`
	}

	// default config
	cfg.Mod.Listen = "127.0.0.1:26760"
	cfg.Mod.VerifyCRC = true
	cfg.Mod.SubscriptionTTL = dsu.DefaultTTL

	app.LoadConfig(&cfg)

	log = app.GetLogger("dsu")

	if cfg.Mod.Listen == "" || controller.Registry == nil {
		return
	}

	conn, err := net.ListenPacket("udp", cfg.Mod.Listen)
	if err != nil {
		log.Error().Err(err).Msg("[dsu] listen")
		return
	}

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("[dsu] listen")

	Server = newServer(controller.Registry, cfg.Mod.VerifyCRC, cfg.Mod.SubscriptionTTL)

	api.SetInfo("dsu", map[string]any{
		"addr": conn.LocalAddr().String(),
		"id":   Server.ID(),
	})

	controller.HandleData(Server)

	cancel := watch(controller.Registry, Server)

	go func() {
		err := Server.Serve(conn)
		cancel()
		log.Debug().Err(err).Msg("[dsu] serve")
	}()
}

var Server *dsu.Server

func Close() error {
	if Server == nil {
		return nil
	}
	return Server.Close()
}

var log zerolog.Logger

func newServer(registry *pkg.Registry, verifyCRC bool, ttl time.Duration) *dsu.Server {
	srv := dsu.NewServer(registry, registry.Size())
	srv.Decoder.SkipCRC = !verifyCRC
	if ttl > 0 {
		srv.TTL = ttl
	}
	srv.OnError = func(addr net.Addr, err error) {
		log.Debug().Err(err).Stringer("addr", addr).Msg("[dsu]")
	}
	return srv
}

// watch sends final disconnected report for every slot that lost its session
func watch(registry *pkg.Registry, srv *dsu.Server) func() {
	ch, cancel := registry.Subscribe()

	go func() {
		for st := range ch {
			for _, slot := range st.Slots {
				if slot.Session != "" {
					continue
				}
				if err := srv.Reset(slot.Slot); err != nil {
					log.Debug().Err(err).Uint8("slot", slot.Slot).Msg("[dsu] reset")
				}
			}
		}
	}()

	return cancel
}
