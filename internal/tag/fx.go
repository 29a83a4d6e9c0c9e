package tag

import "go.uber.org/fx"

var Module = fx.Module("tag",
	fx.Provide(
		NewGormStore,
		func(s *GormStore) Store { return s },
	),
)
