package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if err := Apply(context.Background(), conn); err != nil {
			return err
		}
		log.Info("database schema ready", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
