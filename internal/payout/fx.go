package payout

import (
	"github.com/rubhub/payouts/internal/payout/gateway"
	"github.com/rubhub/payouts/internal/payout/gateway/httpgateway"
	"github.com/rubhub/payouts/internal/payout/gateway/sandbox"
	"github.com/rubhub/payouts/internal/payout/repository"
	"github.com/rubhub/payouts/internal/payout/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(log *zap.Logger) *gateway.Registry {
		return gateway.NewRegistry(
			sandbox.NewFactory(log),
			httpgateway.NewFactory(nil),
		)
	}),
	fx.Provide(service.New),
)
