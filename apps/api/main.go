package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/migration"
	"github.com/rubhub/payouts/internal/observability"
	"github.com/rubhub/payouts/internal/payout"
	"github.com/rubhub/payouts/internal/scheduler"
	"github.com/rubhub/payouts/internal/server"
	"github.com/rubhub/payouts/internal/servicerequest"
	"github.com/rubhub/payouts/internal/settlement"
	"github.com/rubhub/payouts/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		servicerequest.Module,
		payout.Module,
		settlement.Module,
		scheduler.Module,
		server.Module,

		fx.Invoke(scheduler.Register),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
