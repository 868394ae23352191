package dispute

import (
	"github.com/smallbiznis/gigpay/internal/dispute/repository"
	"github.com/smallbiznis/gigpay/internal/dispute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispute.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolutionSource),
	fx.Provide(service.NewService),
)
