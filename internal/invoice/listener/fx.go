package listener

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/invoicing/internal/invoice/dispatcher"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.listener",
	fx.Provide(
		NewRetrySubscriber,
		func(d *dispatcher.Dispatcher) Dispatcher { return d },
		New,
		NewRouter,
	),
	fx.Invoke(func(*message.Router) {}),
)
