package billing

import (
	"github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/billing/service"
	"github.com/smallbiznis/tokenrelay/internal/billing/stripe"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(NewStripeAPI),
	fx.Provide(service.NewReconciler),
	fx.Provide(
		service.NewUsageReporter,
		func(r *service.UsageReporter) domain.Reporter { return r },
	),
)

func NewStripeAPI(cfg config.Config) service.StripeAPI {
	return stripe.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL)
}
