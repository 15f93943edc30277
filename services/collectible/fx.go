package collectible

import (
	"linkdrop/pkg/config"
	"linkdrop/pkg/db"
	"linkdrop/pkg/minio"
	"linkdrop/pkg/taskname"
	"linkdrop/services/linkdrop"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// MinterModule lets the linkdrop service queue mints.
var MinterModule = fx.Module("collectible.minter",
	fx.Provide(
		fx.Annotate(NewMinter, fx.As(new(linkdrop.Minter))),
	),
)

var Module = fx.Module("collectible.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

var Gateway = fx.Module("collectible.gateway",
	fx.Invoke(RegisterRoutes),
)

// Worker handles mint tasks and publishes their metadata when an object
// store is configured.
var Worker = fx.Module("collectible.worker",
	fx.Provide(provideMetadataStore),
	fx.Invoke(registerTaskHandler),
)

func provideMetadataStore(cfg *config.Config) (MetadataStore, error) {
	if cfg.Minio.Endpoint == "" {
		return nil, nil
	}
	return minio.NewStore(cfg)
}

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, Models()...)
}

func registerTaskHandler(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.CollectibleMint, s.HandleMintTask)
}
