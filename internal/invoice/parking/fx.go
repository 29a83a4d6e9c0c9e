package parking

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("invoice.parking",
	fx.Provide(func(p Params) (*Manager, error) {
		return NewManager(context.Background(), p)
	}),
)
