package events

import "go.uber.org/fx"

var Module = fx.Module("events",
	fx.Provide(NewLoggerAdapter),
	fx.Provide(NewPubSub),
	fx.Provide(NewRouter),
)
