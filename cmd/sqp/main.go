package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"SportsQuizPlatform/internal/bootstrap"
	pkg "SportsQuizPlatform/pkg/routes"
)

func main() {
	bootstrap.Loadenv()
	app := fx.New(
		pkg.EchoModules,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
	)

	app.Run()
}
