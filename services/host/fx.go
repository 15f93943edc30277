package host

import (
	"linkdrop/pkg/config"
	"linkdrop/pkg/db"
	"linkdrop/services/linkdrop"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the credential registry and payout journal the linkdrop
// service runs against.
var Module = fx.Module("host",
	fx.Provide(
		fx.Annotate(NewCredentialRegistry, fx.As(new(linkdrop.CredentialIssuer))),
		fx.Annotate(NewPayoutJournal, fx.As(new(linkdrop.Transferor))),
	),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, Models()...)
}
