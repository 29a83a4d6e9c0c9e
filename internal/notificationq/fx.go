package notificationq

import (
	"context"

	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notificationq",
	fx.Provide(
		NewStore,
		func(s *Store) domain.NotificationQueue { return s },
		NewPoller,
	),
	fx.Invoke(StartPoller),
)

// StartPoller runs the poller for the lifetime of the application.
func StartPoller(lc fx.Lifecycle, poller *Poller) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go poller.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
