package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/billingevent"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/eventbus"
	"github.com/smallbiznis/invoicing/internal/invoice/dispatcher"
	"github.com/smallbiznis/invoicing/internal/invoice/generator"
	"github.com/smallbiznis/invoicing/internal/invoice/listener"
	"github.com/smallbiznis/invoicing/internal/invoice/optimizer"
	"github.com/smallbiznis/invoicing/internal/invoice/parking"
	"github.com/smallbiznis/invoicing/internal/invoice/plugin"
	"github.com/smallbiznis/invoicing/internal/invoice/repository"
	"github.com/smallbiznis/invoicing/internal/locker"
	"github.com/smallbiznis/invoicing/internal/logger"
	"github.com/smallbiznis/invoicing/internal/migration"
	"github.com/smallbiznis/invoicing/internal/notificationq"
	"github.com/smallbiznis/invoicing/internal/observability"
	"github.com/smallbiznis/invoicing/internal/server"
	"github.com/smallbiznis/invoicing/internal/tag"
	"github.com/smallbiznis/invoicing/pkg/db"
	"github.com/smallbiznis/invoicing/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		locker.Module,
		eventbus.Module,

		// Billing inputs
		tag.Module,
		billingevent.Module,
		notificationq.Module,

		// Invoice dispatch
		repository.Module,
		generator.Module,
		optimizer.Module,
		plugin.Module,
		parking.Module,
		dispatcher.Module,
		listener.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
