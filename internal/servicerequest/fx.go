package servicerequest

import (
	"github.com/rubhub/payouts/internal/servicerequest/repository"
	"github.com/rubhub/payouts/internal/servicerequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("servicerequest.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
