package gateway

import (
	"github.com/smallbiznis/tokenrelay/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.service",
	fx.Provide(service.NewService),
)
