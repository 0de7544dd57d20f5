package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenrelay/internal/billing"
	"github.com/smallbiznis/tokenrelay/internal/clock"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"github.com/smallbiznis/tokenrelay/internal/dispatch"
	"github.com/smallbiznis/tokenrelay/internal/gateway"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	"github.com/smallbiznis/tokenrelay/internal/lock"
	"github.com/smallbiznis/tokenrelay/internal/migration"
	"github.com/smallbiznis/tokenrelay/internal/observability"
	"github.com/smallbiznis/tokenrelay/internal/profile"
	"github.com/smallbiznis/tokenrelay/internal/server"
	"github.com/smallbiznis/tokenrelay/internal/usage"
	"github.com/smallbiznis/tokenrelay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		dispatch.Module,

		// Functional Domains
		identity.Module,
		gateway.Module,
		usage.Module,
		profile.Module,
		billing.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
