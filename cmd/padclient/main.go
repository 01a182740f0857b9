package main

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/apexskier/dolphin-controller-sub000/internal/app"
	"github.com/apexskier/dolphin-controller-sub000/pkg/controller"
	"github.com/apexskier/dolphin-controller-sub000/pkg/secure"
	"github.com/apexskier/dolphin-controller-sub000/pkg/shell"
	"github.com/rs/zerolog"
)

func main() {
	app.Init("padclient")

	var cfg struct {
		Mod struct {
			Server       string              `yaml:"server"`
			LastServer   controller.Endpoint `yaml:"last_server"`
			Passcode     string              `yaml:"passcode"`
			Identity     string              `yaml:"identity"`
			PingInterval time.Duration       `yaml:"ping_interval"`
			Attempts     int                 `yaml:"attempts"`
			Timeout      time.Duration       `yaml:"timeout"`
		} `yaml:"client"`
	}

	cfg.Mod.Identity = secure.DefaultIdentity
	cfg.Mod.PingInterval = controller.DefaultPingInterval
	cfg.Mod.Attempts = controller.DefaultMaxFailures
	cfg.Mod.Timeout = 5 * time.Second

	app.LoadConfig(&cfg)

	log = app.GetLogger("client")

	app.AddSecret(cfg.Mod.Passcode)

	endpoint := cfg.Mod.LastServer
	if cfg.Mod.Server != "" {
		var err error
		if endpoint, err = controller.ParseEndpoint(cfg.Mod.Server); err != nil {
			log.Fatal().Err(err).Msg("[client] server")
		}
	}

	dialer := &controller.NetDialer{
		Secure:  secure.Config{Passcode: cfg.Mod.Passcode, Identity: cfg.Mod.Identity},
		Timeout: cfg.Mod.Timeout,
	}

	client := controller.NewClient(endpoint, dialer)
	client.PingInterval = cfg.Mod.PingInterval
	client.Retry.MaxFailures = cfg.Mod.Attempts
	client.Store = controller.EndpointStoreFunc(saveEndpoint)

	go logEvents(client.Events())

	if !endpoint.IsZero() {
		client.Start()
	} else {
		log.Info().Msg("[client] no server, use: connect host:port")
	}

	ctx, cancel := shell.SignalContext(context.Background())
	defer cancel()

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			quit, err := handleLine(client, sc.Text())
			if err != nil {
				log.Error().Err(err).Msg("[client]")
			}
			if quit {
				break
			}
		}
		cancel()
	}()

	<-ctx.Done()

	_ = client.Close()
}

var log zerolog.Logger

func saveEndpoint(endpoint controller.Endpoint) error {
	if err := app.PatchConfig([]string{"client", "last_server"}, endpoint); err != nil {
		log.Debug().Err(err).Msg("[client] save server")
		return err
	}
	return nil
}

func logEvents(events <-chan controller.Event) {
	for event := range events {
		switch e := event.(type) {
		case controller.StateEvent:
			if e.Err != nil {
				log.Warn().Err(e.Err).Stringer("state", e.State).Msg("[client]")
			} else {
				log.Info().Stringer("state", e.State).Msg("[client]")
			}
		case controller.InfoEvent:
			ev := log.Info().Str("available", availableString(e.Info.Available))
			if slot, ok := e.Info.Slot(); ok {
				ev = ev.Uint8("slot", slot+1)
			}
			ev.Msg("[client] controllers")
		case controller.RTTEvent:
			if e.Known {
				log.Debug().Dur("rtt", e.RTT).Msg("[client] ping")
			} else {
				log.Debug().Msg("[client] ping unknown")
			}
		case controller.ErrorEvent:
			log.Warn().Str("text", e.Text).Msg("[client] server error")
		}
	}
}

// availableString formats bitmask as "1 3 4" in human slot numbers
func availableString(mask uint8) string {
	var s []byte
	for i := 0; i < 8; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if s != nil {
			s = append(s, ' ')
		}
		s = append(s, byte('1'+i))
	}
	return string(s)
}
