package dispatcher

import (
	"github.com/smallbiznis/invoicing/internal/invoice/optimizer"
	"github.com/smallbiznis/invoicing/internal/invoice/parking"
	"github.com/smallbiznis/invoicing/internal/invoice/plugin"
	"github.com/smallbiznis/invoicing/internal/notificationq"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.dispatcher",
	fx.Provide(
		func(o *optimizer.Optimizer) Optimizer { return o },
		func(p *plugin.Dispatcher) PluginDispatcher { return p },
		func(m *parking.Manager) Parker { return m },
		New,
		func(d *Dispatcher) notificationq.Handler { return d },
	),
)
