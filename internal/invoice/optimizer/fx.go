package optimizer

import "go.uber.org/fx"

var Module = fx.Module("invoice.optimizer",
	fx.Provide(New),
)
