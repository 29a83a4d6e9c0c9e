package dispatcher

import (
	"context"

	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/zap"
)

// HandleNotification routes a due queue notification to the dispatcher. Next-billing-date
// notifications generate the invoice due on their local date; dry-run notifications simulate the
// invoice due one lead time later.
func (d *Dispatcher) HandleNotification(ctx context.Context, n domain.QueuedNotification) error {
	ctx = tenantctx.WithCallContext(ctx, tenantctx.CallContext{TenantID: n.TenantID, AccountID: n.AccountID})

	account, err := d.accounts.GetImmutableAccountByID(ctx, n.AccountID)
	if err != nil {
		if domain.IsLookupFailure(err) {
			d.log.Warn("invoice.dispatch.notification_account_missing",
				zap.String("account_id", n.AccountID.String()),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	switch n.Queue {
	case domain.QueueDryRun:
		target := account.LocalDate(n.EffectiveDate.Add(d.cfg.Get().DryRunNotificationLeadTime))
		_, err = d.ProcessAccountFromNotificationOrBusEvent(ctx, n.AccountID, &target, &domain.DryRunArguments{
			Type:           domain.DryRunTargetDate,
			IsNotification: true,
		}, false)
	default:
		target := account.LocalDate(n.EffectiveDate)
		_, err = d.ProcessAccountFromNotificationOrBusEvent(ctx, n.AccountID, &target, nil, n.IsRescheduled)
	}
	return err
}
