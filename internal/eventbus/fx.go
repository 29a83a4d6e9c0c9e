package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("eventbus",
	fx.Provide(
		NewZapLoggerAdapter,
		NewGoChannel,
		func(ch *gochannel.GoChannel) message.Publisher { return ch },
		func(ch *gochannel.GoChannel) message.Subscriber { return ch },
		New,
		func(b *Bus) domain.EventBus { return b },
	),
)

// NewGoChannel returns the in-process pub/sub closed on application stop.
func NewGoChannel(lc fx.Lifecycle, logger watermill.LoggerAdapter, log *zap.Logger) *gochannel.GoChannel {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := ch.Close(); err != nil {
				log.Warn("eventbus.close_failed", zap.Error(err))
				return err
			}
			return nil
		},
	})
	return ch
}
