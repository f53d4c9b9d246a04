package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Database.DSN), nil
	case "postgres":
		return postgres.Open(cfg.Database.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q, use sqlite or postgres", cfg.Database.Driver)
	}
}

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Env == "production" {
		gormCfg.Logger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(dial, gormCfg)
	if err != nil {
		log.Sugar().Errorw("failed to connect database", "driver", cfg.Database.Driver, "err", err)
		return nil, err
	}
	log.Sugar().Infow("Database started", "driver", cfg.Database.Driver)

	log.Info("Starting migrations")
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func NewStore(db *gorm.DB) *store.Store {
	return store.New(db)
}
