package main

import (
	"github.com/apexskier/dolphin-controller-sub000/internal/api"
	"github.com/apexskier/dolphin-controller-sub000/internal/api/ws"
	"github.com/apexskier/dolphin-controller-sub000/internal/app"
	"github.com/apexskier/dolphin-controller-sub000/internal/controller"
	"github.com/apexskier/dolphin-controller-sub000/internal/dsu"
	"github.com/apexskier/dolphin-controller-sub000/pkg/shell"
)

func main() {
	app.Init("dolphin-controller") // init config and logs

	api.Init() // init API before all others
	ws.Init()  // init WS API endpoint

	controller.Init() // slot registry and secured controller listener
	dsu.Init()        // cemuhook bridge for emulators

	sig := shell.RunUntilSignal()

	app.Logger.Info().Stringer("signal", sig).Msg("exit")

	if err := dsu.Close(); err != nil {
		app.Logger.Debug().Err(err).Msg("[dsu] close")
	}
	if err := controller.Close(); err != nil {
		app.Logger.Debug().Err(err).Msg("[controller] close")
	}
	_ = api.Close()
}
