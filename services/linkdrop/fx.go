package linkdrop

import (
	"linkdrop/pkg/config"
	"linkdrop/pkg/db"
	"linkdrop/pkg/workflow"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("linkdrop.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

var Gateway = fx.Module("linkdrop.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes, registerHealthServer),
)

// Runner starts redemptions on Temporal.
var Runner = fx.Module("linkdrop.runner",
	fx.Provide(
		fx.Annotate(provideRunner, fx.As(new(RedemptionRunner))),
	),
)

// Worker executes the redemption workflow and its activities.
var Worker = fx.Module("linkdrop.worker",
	fx.Provide(provideActivities),
	fx.Invoke(registerWorkflows),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, Models()...)
}

func registerHealthServer(server *grpc.Server, service *Service) {
	grpc_health_v1.RegisterHealthServer(server, service)
}

func provideRunner(cfg *config.Config, c client.Client) *TemporalRunner {
	return NewTemporalRunner(c, workflow.TaskQueue(cfg), cfg.Linkdrop.AccountCreationTimeout)
}

func provideActivities(factory AccountFactory, service *Service) *Activities {
	return &Activities{Factory: factory, Service: service}
}

func registerWorkflows(w worker.Worker, a *Activities) {
	RegisterWorkflows(w, a)
}
