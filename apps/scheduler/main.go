package main

import (
	"context"
	"flag"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/migration"
	"github.com/rubhub/payouts/internal/observability"
	"github.com/rubhub/payouts/internal/payout"
	"github.com/rubhub/payouts/internal/scheduler"
	"github.com/rubhub/payouts/internal/servicerequest"
	"github.com/rubhub/payouts/internal/settlement"
	"github.com/rubhub/payouts/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single settlement now and exit")
	flag.Parse()

	start := fx.Invoke(scheduler.Register)
	if *once {
		start = fx.Invoke(RunOnceAndExit)
	}

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

		// No server module.
		start,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// RunOnceAndExit settles immediately under the run lock, then stops the app.
// The exit code is 1 when the run was refused or finished with item errors.
func RunOnceAndExit(lc fx.Lifecycle, shutdowner fx.Shutdowner, s *scheduler.Scheduler, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				summary, err := s.RunOnce(context.Background())
				switch {
				case err != nil:
					log.Error("settlement run failed", zap.Error(err))
					code = 1
				case len(summary.Errors) > 0:
					log.Warn("settlement run finished with errors",
						zap.String("run_id", summary.RunID),
						zap.Strings("errors", summary.ErrorMessages()),
					)
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
