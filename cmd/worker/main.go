package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"linkdrop/pkg/config"
	"linkdrop/pkg/db"
	"linkdrop/pkg/featureflags"
	"linkdrop/pkg/gen"
	"linkdrop/pkg/hashistack/secretmanager"
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
	"linkdrop/services/factory"
	"linkdrop/services/host"
	"linkdrop/services/linkdrop"
)

// The worker runs the redemption workflow, its activities and the
// collectible mint handler.
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
		task.Server,
		sequence.Module,
		gen.Module,
		featureflags.Module,
		workflow.ProvideClient,
		workflow.Worker,
		host.Module,
		factory.Module,
		collectible.MinterModule,
		collectible.Module,
		collectible.Worker,
		linkdrop.Module,
		linkdrop.Runner,
		linkdrop.Worker,
		health.Module,
		server.ProvideHTTPServer,
		fx.Invoke(registerMetrics),
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

func registerMetrics(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
