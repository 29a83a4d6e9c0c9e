// Package eventbus carries domain events between the invoicing components over watermill.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/pkg/telemetry/correlation"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// TopicBillingEvents carries the subscription, blocking, account and tag events the invoice
	// listener reacts to.
	TopicBillingEvents = "billing.events"
	// TopicInvoiceEvents carries the events posted by the dispatcher.
	TopicInvoiceEvents = "invoice.events"

	metadataEventType = "event_type"
	metadataUserToken = "user_token"
)

var ErrUnknownEventType = errors.New("unknown_event_type")

// Envelope is the wire format of every message: the event type and its JSON payload.
type Envelope struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// TopicFor routes an event type to its topic.
func TopicFor(t domain.EventType) string {
	switch t {
	case domain.EventTypeSubscriptionTransition,
		domain.EventTypeBlockingTransition,
		domain.EventTypeAccountChange,
		domain.EventTypeControlTagDeletion:
		return TopicBillingEvents
	default:
		return TopicInvoiceEvents
	}
}

type Params struct {
	fx.In

	Publisher message.Publisher
	Log       *zap.Logger
	Metrics   *obsmetrics.InvoiceMetrics `optional:"true"`
}

// Bus publishes domain events as JSON envelopes.
type Bus struct {
	publisher message.Publisher
	log       *zap.Logger
	metrics   *obsmetrics.InvoiceMetrics
}

func New(p Params) (*Bus, error) {
	if p.Publisher == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Bus{
		publisher: p.Publisher,
		log:       p.Log.Named("eventbus"),
		metrics:   p.Metrics,
	}, nil
}

func (b *Bus) Post(ctx context.Context, event domain.Event) error {
	msg, err := Encode(ctx, event)
	if err != nil {
		return err
	}
	topic := TopicFor(event.EventType())
	if err := b.publisher.Publish(topic, msg); err != nil {
		b.metrics.IncEventBusFailure(string(event.EventType()))
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	b.log.Debug("eventbus.published",
		zap.String("topic", topic),
		zap.String("event", string(event.EventType())),
		zap.String("message_id", msg.UUID),
	)
	return nil
}

// Encode wraps event in an envelope message carrying the correlation id and user token of ctx.
func Encode(ctx context.Context, event domain.Event) (*message.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	body, err := json.Marshal(Envelope{Type: event.EventType(), Payload: payload})
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	correlation.InjectIntoMetadata(ctx, msg.Metadata)
	msg.Metadata.Set(metadataEventType, string(event.EventType()))
	if cc, ok := tenantctx.FromContext(ctx); ok && cc.UserToken != "" {
		msg.Metadata.Set(metadataUserToken, cc.UserToken)
	}
	msg.SetContext(ctx)
	return msg, nil
}

// Decode restores the typed event carried by msg.
func Decode(msg *message.Message) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var event domain.Event
	var err error
	switch env.Type {
	case domain.EventTypeSubscriptionTransition:
		event, err = decodeAs[domain.EffectiveSubscriptionTransitionEvent](env.Payload)
	case domain.EventTypeBlockingTransition:
		event, err = decodeAs[domain.BlockingTransitionEvent](env.Payload)
	case domain.EventTypeAccountChange:
		event, err = decodeAs[domain.AccountChangeEvent](env.Payload)
	case domain.EventTypeControlTagDeletion:
		event, err = decodeAs[domain.ControlTagDeletionEvent](env.Payload)
	case domain.EventTypeNullInvoice:
		event, err = decodeAs[domain.NullInvoiceEvent](env.Payload)
	case domain.EventTypeInvoiceCreation:
		event, err = decodeAs[domain.InvoiceCreationEvent](env.Payload)
	case domain.EventTypeInvoiceAdjustment:
		event, err = decodeAs[domain.InvoiceAdjustmentEvent](env.Payload)
	case domain.EventTypeInvoiceNotification:
		event, err = decodeAs[domain.InvoiceNotificationEvent](env.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return event, nil
}

func decodeAs[T domain.Event](payload json.RawMessage) (domain.Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ContextFromMessage restores the correlation id and call context carried by msg.
func ContextFromMessage(ctx context.Context, msg *message.Message, tenantID int64, accountID snowflake.ID) context.Context {
	ctx = correlation.ContextFromMetadata(ctx, msg.Metadata)
	return tenantctx.WithCallContext(ctx, tenantctx.CallContext{
		TenantID:  tenantID,
		AccountID: accountID,
		UserToken: msg.Metadata.Get(metadataUserToken),
	})
}
