package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/plugin"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"go.uber.org/zap"
)

// run is the call-local state of one dispatch. existing is updated in memory as simulated
// invoices are produced and never persisted.
type run struct {
	account       domain.Account
	events        domain.BillingEventSet
	existing      *domain.AccountInvoices
	dryRun        *domain.DryRunArguments
	isRescheduled bool
	now           time.Time
}

func (r *run) isDryRun() bool { return r.dryRun != nil }

func (r *run) pluginContext(target time.Time, inv *domain.Invoice) plugin.Context {
	return plugin.Context{
		Account:          r.account,
		TargetDate:       target,
		DryRun:           r.isDryRun(),
		DryRunArguments:  r.dryRun,
		IsRescheduled:    r.isRescheduled,
		Invoice:          inv,
		ExistingInvoices: r.existing.Invoices,
	}
}

type targetResult struct {
	invoice       *domain.Invoice
	notifications domain.FutureAccountNotifications
}

// processTarget generates the invoice due at one local target date. Real runs commit the invoice
// together with the future notifications; once computed, notifications are persisted on every
// failure path as well.
func (d *Dispatcher) processTarget(ctx context.Context, r *run, target time.Time) (res targetResult, err error) {
	accountID := r.account.ID
	log := d.log.With(
		zap.String("account_id", accountID.String()),
		zap.Time("target_date", target),
		zap.Bool("dry_run", r.isDryRun()),
	)

	reschedule, err := d.plugins.PriorCall(ctx, r.pluginContext(target, nil))
	if err != nil {
		return res, err
	}
	if reschedule != nil {
		if r.isDryRun() {
			log.Warn("invoice.dispatch.dry_run_reschedule_ignored", zap.Time("reschedule_date", *reschedule))
			return res, nil
		}
		notifications := domain.NewFutureAccountNotificationsBuilder().
			AddTrigger(*reschedule, domain.AccountLevelSubscriptionID).
			SetRescheduled(true).
			Build()
		if err := d.dao.SetFutureAccountNotificationsForEmptyInvoice(ctx, accountID, notifications); err != nil {
			return res, fmt.Errorf("record plugin reschedule: %w", err)
		}
		d.metrics.IncDispatch(obsmetrics.ModeReal, obsmetrics.DispatchOutcomeRescheduled)
		log.Info("invoice.dispatch.plugin_rescheduled", zap.Time("reschedule_date", *reschedule))
		return targetResult{notifications: notifications}, nil
	}

	targetInvoiceID := r.reuseDraftID()
	generated, err := d.generator.GenerateInvoice(ctx, domain.GenerateRequest{
		Account:         r.account,
		BillingEvents:   r.events,
		AccountInvoices: *r.existing,
		TargetInvoiceID: targetInvoiceID,
		TargetDate:      target,
		Currency:        r.account.Currency,
		DryRunInfo:      r.dryRun,
	})
	if err != nil {
		return res, classifyGenerationError(err)
	}
	generated.Normalize()

	res.notifications = d.futureNotifications(r, generated)
	committed := false
	if !r.isDryRun() {
		defer func() {
			if committed || res.notifications.IsEmpty() {
				return
			}
			if nErr := d.dao.SetFutureAccountNotificationsForEmptyInvoice(ctx, accountID, res.notifications); nErr != nil {
				log.Error("invoice.dispatch.persist_notifications_failed", zap.Error(nErr))
				if err == nil {
					err = fmt.Errorf("persist notifications: %w", nErr)
				}
			}
		}()
	}

	inv := generated.Invoice
	if inv == nil {
		if !r.isDryRun() {
			d.post(ctx, domain.NullInvoiceEvent{AccountID: accountID, TenantID: r.account.TenantID, UserToken: userToken(ctx)})
			d.metrics.IncDispatch(obsmetrics.ModeReal, obsmetrics.DispatchOutcomeNullInvoice)
			log.Info("invoice.dispatch.null_invoice")
		}
		return res, nil
	}
	if r.events.AutoInvoicingDraft && targetInvoiceID == 0 {
		inv.Status = domain.InvoiceStatusDraft
	}

	if _, err := d.dao.DoCBAComplexity(ctx, inv, *r.existing); err != nil {
		return res, fmt.Errorf("compute credit balance: %w", err)
	}
	pctx := r.pluginContext(target, inv)
	update, err := d.plugins.UpdateOriginalInvoiceWithPluginInvoiceItems(ctx, inv, pctx)
	if err != nil {
		return res, err
	}
	if update.Changed {
		if _, err := d.dao.DoCBAComplexity(ctx, inv, *r.existing); err != nil {
			return res, fmt.Errorf("recompute credit balance: %w", err)
		}
	}

	if r.isDryRun() {
		r.existing.Upsert(*inv)
		for _, adjusted := range update.Adjusted {
			r.existing.Upsert(adjusted)
		}
		res.invoice = inv
		return res, nil
	}

	err = d.dao.CreateInvoice(ctx, domain.CreateInvoiceInput{
		Invoice:             inv,
		AdjustedInvoices:    update.Adjusted,
		BillingEvents:       r.events,
		TrackingIDs:         generated.TrackingIDs,
		Notifications:       res.notifications,
		ChargedThroughDates: domain.ChargedThroughDates(inv),
		ExistingInvoices:    *r.existing,
	})
	if err != nil {
		pctx.Invoice = inv
		if hookErr := d.plugins.OnFailureCall(ctx, pctx); hookErr != nil {
			log.Warn("invoice.dispatch.plugin_failure_hook_failed", zap.Error(hookErr))
		}
		return res, fmt.Errorf("create invoice %s: %w", inv.ID, err)
	}
	committed = true

	refreshed, err := d.dao.GetByID(ctx, inv.ID)
	if err != nil {
		log.Warn("invoice.dispatch.refresh_failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		refreshed = inv
	}
	pctx.Invoice = refreshed
	if hookErr := d.plugins.OnSuccessCall(ctx, pctx); hookErr != nil {
		log.Warn("invoice.dispatch.plugin_success_hook_failed", zap.Error(hookErr))
	}

	if refreshed.Status == domain.InvoiceStatusCommitted && refreshed.HasItems() {
		d.post(ctx, domain.InvoiceCreationEvent{
			InvoiceID: refreshed.ID,
			AccountID: accountID,
			TenantID:  r.account.TenantID,
			Status:    refreshed.Status,
			Balance:   refreshed.Balance(),
			Currency:  refreshed.Currency,
			UserToken: userToken(ctx),
		})
	}
	for _, adjusted := range update.Adjusted {
		d.post(ctx, domain.InvoiceAdjustmentEvent{
			InvoiceID: adjusted.ID,
			AccountID: accountID,
			TenantID:  r.account.TenantID,
			UserToken: userToken(ctx),
		})
	}

	d.metrics.IncDispatch(obsmetrics.ModeReal, obsmetrics.DispatchOutcomeInvoice)
	log.Info("invoice.dispatch.invoice_created",
		zap.String("invoice_id", refreshed.ID.String()),
		zap.Int("items", len(refreshed.Items)),
	)
	res.invoice = refreshed
	return res, nil
}

// reuseDraftID returns the draft to extend when the account reuses drafts.
func (r *run) reuseDraftID() snowflake.ID {
	if !r.events.AutoInvoicingReuseDraft {
		return 0
	}
	if draft, ok := r.existing.LatestDraft(); ok {
		return draft.ID
	}
	return 0
}

func classifyGenerationError(err error) error {
	if errors.Is(err, domain.ErrUnexpected) || errors.Is(err, domain.ErrPluginAborted) || domain.IsLookupFailure(err) {
		return err
	}
	return fmt.Errorf("%w: generate invoice: %w", domain.ErrUnexpected, err)
}

// futureNotifications schedules the next wake-ups of the account: the generator's next recurring
// and usage dates plus the next billing transition of every subscription. Each trigger also
// yields a dry-run notification the configured lead time earlier.
func (d *Dispatcher) futureNotifications(r *run, generated domain.InvoiceWithMetadata) domain.FutureAccountNotifications {
	b := domain.NewFutureAccountNotificationsBuilder()
	triggers := map[time.Time][]snowflake.ID{}
	add := func(date time.Time, subscriptionID snowflake.ID) {
		at := r.account.Instant(date)
		triggers[at] = append(triggers[at], subscriptionID)
	}

	for subscriptionID, dates := range generated.PerSubscriptionFutureNotificationDates {
		if dates.NextRecurringDate != nil {
			add(*dates.NextRecurringDate, subscriptionID)
		}
		for _, at := range dates.NextUsageDates {
			add(at, subscriptionID)
		}
	}
	for subscriptionID, date := range r.events.NextTransitionDates(r.now, r.account.Location()) {
		add(date, subscriptionID)
	}

	lead := d.cfg.Get().DryRunNotificationLeadTime
	for _, at := range lo.Keys(triggers) {
		ids := triggers[at]
		b.AddTrigger(at, ids...)
		if lead > 0 {
			if notifyAt := at.Add(-lead); notifyAt.After(r.now) {
				b.AddDryRun(notifyAt, ids...)
			}
		}
	}
	return b.Build()
}
