// Package optimizer bounds the invoice history loaded per dispatch and reschedules contended accounts.
package optimizer

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Dao    domain.InvoiceDao
	Queue  domain.NotificationQueue
	Config *config.InvoiceConfigHolder
	Clock  clock.Clock
	Log    *zap.Logger
}

type Optimizer struct {
	dao   domain.InvoiceDao
	queue domain.NotificationQueue
	cfg   *config.InvoiceConfigHolder
	clock clock.Clock
	log   *zap.Logger
}

func New(p Params) (*Optimizer, error) {
	if p.Dao == nil || p.Queue == nil || p.Config == nil || p.Clock == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Optimizer{
		dao:   p.Dao,
		queue: p.Queue,
		cfg:   p.Config,
		clock: p.Clock,
		log:   p.Log.Named("invoice.optimizer"),
	}, nil
}

// GetInvoices loads the existing invoices of an account. With a lookback window configured only
// invoices targeting today minus the window or later are loaded and the cutoff is recorded.
func (o *Optimizer) GetInvoices(ctx context.Context, accountID snowflake.ID) (domain.AccountInvoices, error) {
	lookback := o.cfg.Get().MaxInvoiceLookback

	var cutoff *time.Time
	if lookback > 0 {
		date := domain.ToLocalDate(o.clock.Now().Add(-lookback), time.UTC)
		cutoff = &date
	}

	invoices, err := o.dao.GetInvoicesByAccount(ctx, accountID, cutoff)
	if err != nil {
		return domain.AccountInvoices{}, err
	}
	return domain.AccountInvoices{CutoffDate: cutoff, Invoices: invoices}, nil
}

// RescheduleProcessAccount queues a rescheduled notification when the account lock is contended.
// It reports whether a notification was recorded.
func (o *Optimizer) RescheduleProcessAccount(ctx context.Context, accountID snowflake.ID) bool {
	interval := o.cfg.Get().RescheduleIntervalOnLock
	if interval <= 0 {
		return false
	}

	tenantID, _ := tenantctx.TenantID(ctx)
	at := o.clock.Now().Add(interval)
	err := o.queue.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID:       accountID,
		TenantID:        tenantID,
		Queue:           domain.QueueNextBillingDate,
		EffectiveDate:   at,
		SubscriptionIDs: []snowflake.ID{domain.AccountLevelSubscriptionID},
		IsRescheduled:   true,
	})
	if err != nil {
		o.log.Error("invoice.optimizer.reschedule_failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
		return false
	}

	o.log.Info("invoice.optimizer.rescheduled",
		zap.String("account_id", accountID.String()),
		zap.Time("effective_date", at),
	)
	return true
}
