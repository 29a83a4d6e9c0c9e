package migration

import (
	"github.com/smallbiznis/invoicing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("migration.skipped")
			return nil
		}
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("migration.applied", zap.String("type", cfg.DBType))
			return nil
		}
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("migration.auto_migrated", zap.String("type", cfg.DBType))
		return nil
	}),
)
