package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"linkdrop/pkg/config"
	"linkdrop/pkg/db"
	"linkdrop/pkg/featureflags"
	"linkdrop/pkg/gen"
	"linkdrop/pkg/hashistack/secretmanager"
	"linkdrop/pkg/hashistack/servicediscover"
	"linkdrop/pkg/health"
	"linkdrop/pkg/logger"
	"linkdrop/pkg/otelcol"
	"linkdrop/pkg/profiling"
	"linkdrop/pkg/redis"
	"linkdrop/pkg/sequence"
	"linkdrop/pkg/server"
	"linkdrop/pkg/task"
	"linkdrop/pkg/workflow"
	"linkdrop/services/collectible"
	"linkdrop/services/host"
	"linkdrop/services/linkdrop"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.FromEnv(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		featureflags.Module,
		workflow.ProvideClient,
		host.Module,
		collectible.MinterModule,
		collectible.Module,
		collectible.Gateway,
		linkdrop.Module,
		linkdrop.Runner,
		linkdrop.Gateway,
		health.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
