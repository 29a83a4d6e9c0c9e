package listener

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/smallbiznis/invoicing/internal/eventbus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const handlerName = "invoice_listener"

// Register subscribes the listener to the billing events topic.
func (l *Listener) Register(router *message.Router, sub message.Subscriber) {
	router.AddNoPublisherHandler(handlerName, eventbus.TopicBillingEvents, sub, l.handleMessage)
	l.log.Info("invoice.listener.registered", zap.String("topic", eventbus.TopicBillingEvents))
}

// handleMessage always acknowledges: undecodable and failed events are logged and dropped so
// they never block the topic.
func (l *Listener) handleMessage(msg *message.Message) error {
	event, err := eventbus.Decode(msg)
	if err != nil {
		l.log.Error("invoice.listener.decode_failed", zap.String("message_id", msg.UUID), zap.Error(err))
		return nil
	}
	ctx := eventbus.ContextFromMessage(msg.Context(), msg, 0, 0)
	return l.Handle(ctx, event)
}

// NewRouter builds the watermill router running the listener for the application lifetime.
func NewRouter(lc fx.Lifecycle, logger watermill.LoggerAdapter, sub message.Subscriber, l *Listener, log *zap.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer, middleware.CorrelationID)
	l.Register(router, sub)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Error("invoice.listener.router_stopped", zap.Error(err))
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return router, nil
}
