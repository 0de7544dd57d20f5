package migration

import (
	"github.com/smallbiznis/tokenrelay/internal/config"
	profiledomain "github.com/smallbiznis/tokenrelay/internal/profile/domain"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		return Apply(conn, cfg.DBType, log.Named("migration"))
	}),
)

// Apply runs the SQL migrations on postgres. Other dialects are local
// development targets and get gorm's AutoMigrate instead.
func Apply(conn *gorm.DB, dbType string, log *zap.Logger) error {
	if dbType != "postgres" {
		log.Info("running auto migrate", zap.String("db_type", dbType))
		return conn.AutoMigrate(&profiledomain.Profile{}, &usagedomain.UsageLog{})
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
