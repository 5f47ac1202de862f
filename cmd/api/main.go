// Command api serves the arena HTTP API and plays the matches it accepts.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/config"
)

func main() {
	fx.New(
		fx.Provide(config.Load, newLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		storageModule,
		arenaModule,
		fx.Invoke(registerReaper, registerServer),
	).Run()
}
