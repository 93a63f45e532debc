package invoice

import (
	"github.com/smallbiznis/gymdesk/internal/invoice/repository"
	"github.com/smallbiznis/gymdesk/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
