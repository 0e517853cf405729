//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/lockstep-engine/lockstep/internal/core/events/bus"
	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

func provideWorld(r *schema.Registry, l *log.Logger, b *bus.Bus) *world.World {
	return world.New(r, world.WithLogger(l), world.WithBus(b))
}

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelDebug)
}

func ProvideRegistry() *schema.Registry {
	wire.Build(schema.Provide)
	return nil
}

func ProvideWorld() *world.World {
	wire.Build(log.Provide, schema.Provide, bus.New, provideWorld)
	return nil
}
