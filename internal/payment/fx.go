package payment

import (
	"github.com/smallbiznis/gymdesk/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(webhook.NewService),
)
