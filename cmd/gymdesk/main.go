package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/clock"
	"github.com/smallbiznis/gymdesk/internal/config"
	"github.com/smallbiznis/gymdesk/internal/migration"
	"github.com/smallbiznis/gymdesk/internal/observability"
	"github.com/smallbiznis/gymdesk/internal/server"
	"github.com/smallbiznis/gymdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
