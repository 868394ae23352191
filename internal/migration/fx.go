package migration

import (
	"context"

	"github.com/smallbiznis/gigpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("auto migration disabled")
			return nil
		}
		return Apply(context.Background(), conn)
	}),
)
