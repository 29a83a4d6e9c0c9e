package plugin

import "go.uber.org/fx"

var Module = fx.Module("invoice.plugin",
	fx.Provide(NewDispatcher),
)

// AsPlugin annotates a constructor so its plugin joins the invoice plugin group.
func AsPlugin(f any) any {
	return fx.Annotate(f, fx.As(new(Plugin)), fx.ResultTags(`group:"invoice_plugins"`))
}
