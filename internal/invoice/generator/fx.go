package generator

import (
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.generator",
	fx.Provide(
		New,
		func(g *Generator) domain.Generator { return g },
	),
)
