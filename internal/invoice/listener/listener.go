// Package listener turns billing domain events into dispatcher calls.
package listener

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/parking"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/internal/tag"
	"github.com/smallbiznis/invoicing/pkg/log/ctxlogger"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dispatcher is the background entry point of the invoice dispatcher.
type Dispatcher interface {
	ProcessAccountFromNotificationOrBusEvent(ctx context.Context, accountID snowflake.ID, targetDate *time.Time, dryRun *domain.DryRunArguments, isRescheduled bool) (*domain.Invoice, error)
}

type Params struct {
	fx.In

	Dispatcher Dispatcher
	Retry      *RetrySubscriber
	Log        *zap.Logger
	Metrics    *obsmetrics.InvoiceMetrics `optional:"true"`
}

type Listener struct {
	dispatcher Dispatcher
	retry      *RetrySubscriber
	log        *zap.Logger
	metrics    *obsmetrics.InvoiceMetrics
}

func New(p Params) (*Listener, error) {
	if p.Dispatcher == nil || p.Retry == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Listener{
		dispatcher: p.Dispatcher,
		retry:      p.Retry,
		log:        p.Log.Named("invoice.listener"),
		metrics:    p.Metrics,
	}, nil
}

// HandleSubscriptionTransition processes the account once the last transition of a user
// operation became effective. Uncancel transitions bill nothing new.
func (l *Listener) HandleSubscriptionTransition(ctx context.Context, ev domain.EffectiveSubscriptionTransitionEvent) error {
	if ev.TransitionType == domain.TransitionUncancel || ev.RemainingEventsForUserOperation > 0 {
		l.ignored(ev, zap.String("subscription_id", ev.SubscriptionID.String()))
		return nil
	}
	return l.process(ctx, ev, ev.AccountID, ev.TenantID, ev.UserToken)
}

// HandleBlockingStateTransition processes the account when billing became blocked or unblocked.
func (l *Listener) HandleBlockingStateTransition(ctx context.Context, ev domain.BlockingTransitionEvent) error {
	if !ev.IsTransitionedToBlockedBilling && !ev.IsTransitionedToUnblockedBilling {
		l.ignored(ev, zap.String("blockable_id", ev.BlockableID.String()))
		return nil
	}
	return l.process(ctx, ev, ev.AccountID, ev.TenantID, ev.UserToken)
}

// HandleAccountChange reprocesses the account when an already set bill cycle day changed.
func (l *Listener) HandleAccountChange(ctx context.Context, ev domain.AccountChangeEvent) error {
	for _, change := range ev.Changes {
		if change.FieldName != domain.FieldBillCycleDayLocal {
			continue
		}
		if isUnsetBCD(change.OldValue) || change.OldValue == change.NewValue {
			break
		}
		return l.process(ctx, ev, ev.AccountID, ev.TenantID, ev.UserToken)
	}
	l.ignored(ev)
	return nil
}

// HandleControlTagDeletion reprocesses an account released from auto-invoicing-off or parking.
func (l *Listener) HandleControlTagDeletion(ctx context.Context, ev domain.ControlTagDeletionEvent) error {
	if ev.ObjectType != tag.ObjectTypeAccount ||
		(ev.TagDefinitionName != tag.AutoInvoicingOff && ev.TagDefinitionName != parking.ParkedTagName) {
		l.ignored(ev, zap.String("tag", ev.TagDefinitionName))
		return nil
	}
	return l.process(ctx, ev, ev.AccountID, ev.TenantID, ev.UserToken)
}

// Handle routes a decoded event to its handler.
func (l *Listener) Handle(ctx context.Context, event domain.Event) error {
	switch ev := event.(type) {
	case domain.EffectiveSubscriptionTransitionEvent:
		return l.HandleSubscriptionTransition(ctx, ev)
	case domain.BlockingTransitionEvent:
		return l.HandleBlockingStateTransition(ctx, ev)
	case domain.AccountChangeEvent:
		return l.HandleAccountChange(ctx, ev)
	case domain.ControlTagDeletionEvent:
		return l.HandleControlTagDeletion(ctx, ev)
	default:
		l.ignored(event)
		return nil
	}
}

func (l *Listener) process(ctx context.Context, ev domain.Event, accountID snowflake.ID, tenantID int64, userToken string) error {
	if userToken == "" {
		if cc, ok := tenantctx.FromContext(ctx); ok {
			userToken = cc.UserToken
		}
	}
	ctx = tenantctx.WithCallContext(ctx, tenantctx.CallContext{TenantID: tenantID, AccountID: accountID, UserToken: userToken})
	name := string(ev.EventType())
	err := l.retry.Do(ctx, name, func(ctx context.Context) error {
		_, err := l.dispatcher.ProcessAccountFromNotificationOrBusEvent(ctx, accountID, nil, nil, false)
		return err
	})
	if err != nil {
		l.metrics.IncListenerEvent(name, obsmetrics.ListenerOutcomeFailed)
		ctxlogger.WithContext(ctx, l.log).Error("invoice.listener.event_dropped",
			zap.String("event", name),
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
		return nil
	}
	l.metrics.IncListenerEvent(name, obsmetrics.ListenerOutcomeProcessed)
	return nil
}

func (l *Listener) ignored(ev domain.Event, fields ...zap.Field) {
	l.metrics.IncListenerEvent(string(ev.EventType()), obsmetrics.ListenerOutcomeIgnored)
	l.log.Debug("invoice.listener.ignored", append(fields, zap.String("event", string(ev.EventType())))...)
}

func isUnsetBCD(v string) bool {
	return v == "" || v == "0"
}
