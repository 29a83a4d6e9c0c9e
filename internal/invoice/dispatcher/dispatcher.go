// Package dispatcher decides when an account is invoiced. It serializes generation per account,
// simulates future invoices for dry-runs and parks accounts whose invoicing state is inconsistent.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/plugin"
	"github.com/smallbiznis/invoicing/internal/locker"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/pkg/log/ctxlogger"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Parker suspends and resumes background invoicing of an account.
type Parker interface {
	ParkAccount(ctx context.Context, accountID snowflake.ID) error
	UnparkAccount(ctx context.Context, accountID snowflake.ID) error
	IsParked(ctx context.Context, accountID snowflake.ID) (bool, error)
}

// Optimizer loads the bounded invoice history and reschedules contended accounts.
type Optimizer interface {
	GetInvoices(ctx context.Context, accountID snowflake.ID) (domain.AccountInvoices, error)
	RescheduleProcessAccount(ctx context.Context, accountID snowflake.ID) bool
}

// PluginDispatcher runs the invoice plugin hooks.
type PluginDispatcher interface {
	PriorCall(ctx context.Context, pctx plugin.Context) (*time.Time, error)
	UpdateOriginalInvoiceWithPluginInvoiceItems(ctx context.Context, original *domain.Invoice, pctx plugin.Context) (plugin.Update, error)
	OnSuccessCall(ctx context.Context, pctx plugin.Context) error
	OnFailureCall(ctx context.Context, pctx plugin.Context) error
}

type Params struct {
	fx.In

	Config    *config.InvoiceConfigHolder
	Events    domain.BillingEventSource
	Accounts  domain.AccountSource
	Generator domain.Generator
	Dao       domain.InvoiceDao
	Queue     domain.NotificationQueue
	Locker    locker.Locker
	Optimizer Optimizer
	Plugins   PluginDispatcher
	Parking   Parker
	Bus       domain.EventBus
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.InvoiceMetrics `optional:"true"`
	Tracer    trace.TracerProvider       `optional:"true"`
}

type Dispatcher struct {
	cfg       *config.InvoiceConfigHolder
	events    domain.BillingEventSource
	accounts  domain.AccountSource
	generator domain.Generator
	dao       domain.InvoiceDao
	queue     domain.NotificationQueue
	locker    locker.Locker
	optimizer Optimizer
	plugins   PluginDispatcher
	parking   Parker
	bus       domain.EventBus
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.InvoiceMetrics
	tracer    trace.Tracer
}

func New(p Params) (*Dispatcher, error) {
	if p.Config == nil || p.Events == nil || p.Accounts == nil || p.Generator == nil || p.Dao == nil ||
		p.Queue == nil || p.Locker == nil || p.Optimizer == nil || p.Plugins == nil || p.Parking == nil ||
		p.Bus == nil || p.Clock == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	tp := p.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Dispatcher{
		cfg:       p.Config,
		events:    p.Events,
		accounts:  p.Accounts,
		generator: p.Generator,
		dao:       p.Dao,
		queue:     p.Queue,
		locker:    p.Locker,
		optimizer: p.Optimizer,
		plugins:   p.Plugins,
		parking:   p.Parking,
		bus:       p.Bus,
		clock:     p.Clock,
		log:       p.Log.Named("invoice.dispatcher"),
		metrics:   p.Metrics,
		tracer:    tp.Tracer("github.com/smallbiznis/invoicing/internal/invoice/dispatcher"),
	}, nil
}

// ProcessAccountFromNotificationOrBusEvent is the entry point of background triggers. When
// invoicing is disabled the account is parked and nothing is generated.
func (d *Dispatcher) ProcessAccountFromNotificationOrBusEvent(ctx context.Context, accountID snowflake.ID, targetDate *time.Time, dryRun *domain.DryRunArguments, isRescheduled bool) (*domain.Invoice, error) {
	if !d.cfg.Get().Enabled {
		d.metrics.IncDispatch(modeOf(dryRun), obsmetrics.DispatchOutcomeDisabled)
		d.log.Warn("invoice.dispatch.disabled", zap.String("account_id", accountID.String()))
		if err := d.parking.ParkAccount(ctx, accountID); err != nil {
			d.log.Error("invoice.dispatch.park_failed", zap.String("account_id", accountID.String()), zap.Error(err))
		}
		return nil, nil
	}
	return d.ProcessAccount(ctx, false, accountID, targetDate, dryRun, isRescheduled)
}

// ProcessAccount generates, or simulates when dryRun is set, the invoice of an account at
// targetDate, a local date. A nil targetDate means today in the account time zone.
func (d *Dispatcher) ProcessAccount(ctx context.Context, isAPICall bool, accountID snowflake.ID, targetDate *time.Time, dryRun *domain.DryRunArguments, isRescheduled bool) (inv *domain.Invoice, err error) {
	mode := modeOf(dryRun)
	ctx = tenantctx.ForAccount(ctx, accountID)
	ctx, span := d.tracer.Start(ctx, "invoice.process_account", trace.WithAttributes(
		attribute.String("account_id", accountID.String()),
		attribute.Bool("dry_run", dryRun != nil),
		attribute.Bool("api_call", isAPICall),
		attribute.Bool("rescheduled", isRescheduled),
	))
	started := d.clock.Now()
	defer func() {
		d.metrics.ObserveDispatchDuration(mode, d.clock.Now().Sub(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if dryRun != nil {
		if err := dryRun.Validate(); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("dry_run_type", string(dryRun.Type)))
	}

	log := ctxlogger.WithContext(ctx, d.log).With(zap.String("account_id", accountID.String()), zap.String("mode", mode))

	parked, err := d.parking.IsParked(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("check parked account %s: %w", accountID, err)
	}
	if parked && !isAPICall {
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeParkedSkip)
		log.Info("invoice.dispatch.parked_skip")
		return nil, nil
	}

	if dryRun == nil {
		key := accountID.String()
		if !isAPICall && !d.locker.IsFree(ctx, locker.LockTypeAccountInvoicePayment, key) {
			if d.optimizer.RescheduleProcessAccount(ctx, accountID) {
				d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeRescheduled)
				log.Info("invoice.dispatch.rescheduled_on_contention")
				return nil, nil
			}
		}

		lockStarted := d.clock.Now()
		lock, lockErr := d.locker.LockWithNumberOfTries(ctx, locker.LockTypeAccountInvoicePayment, key, d.cfg.Get().MaxLockTries)
		d.metrics.ObserveLockWait(d.clock.Now().Sub(lockStarted))
		if lockErr != nil {
			d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeLockFailed)
			if isAPICall {
				return nil, fmt.Errorf("%w: account %s: %w", domain.ErrLockFailed, accountID, lockErr)
			}
			log.Warn("invoice.dispatch.lock_failed", zap.Error(lockErr))
			d.optimizer.RescheduleProcessAccount(ctx, accountID)
			return nil, nil
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				log.Error("invoice.dispatch.lock_release_failed", zap.Error(relErr))
			}
		}()
	}

	inv, err = d.processAccountWithLock(ctx, accountID, targetDate, dryRun, isRescheduled, parked)
	switch {
	case err == nil:
		return inv, nil
	case errors.Is(err, domain.ErrPluginAborted):
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomePluginAborted)
		log.Info("invoice.dispatch.plugin_aborted", zap.Error(err))
		return nil, nil
	case domain.IsLookupFailure(err):
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeLookupFailed)
		log.Warn("invoice.dispatch.lookup_failed", zap.Error(err))
		return nil, nil
	case errors.Is(err, domain.ErrUnexpected) && dryRun == nil:
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeUnexpectedError)
		log.Error("invoice.dispatch.unexpected_error", zap.Error(err))
		if parkErr := d.parking.ParkAccount(ctx, accountID); parkErr != nil {
			log.Error("invoice.dispatch.park_failed", zap.Error(parkErr))
		}
		return nil, err
	default:
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeError)
		log.Error("invoice.dispatch.failed", zap.Error(err))
		return nil, err
	}
}

func (d *Dispatcher) processAccountWithLock(ctx context.Context, accountID snowflake.ID, targetDate *time.Time, dryRun *domain.DryRunArguments, isRescheduled, wasParked bool) (*domain.Invoice, error) {
	account, err := d.accounts.GetImmutableAccountByID(ctx, accountID)
	if err != nil {
		if hookErr := d.plugins.OnFailureCall(ctx, plugin.Context{Account: domain.Account{ID: accountID}, DryRun: dryRun != nil, DryRunArguments: dryRun}); hookErr != nil {
			d.log.Warn("invoice.dispatch.plugin_failure_hook_failed", zap.String("account_id", accountID.String()), zap.Error(hookErr))
		}
		return nil, err
	}

	existing, err := d.optimizer.GetInvoices(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	events, err := d.events.GetBillingEventsForAccountAndUpdateAccountBCD(ctx, accountID, dryRun, existing.CutoffDate)
	if err != nil {
		return nil, err
	}

	mode := modeOf(dryRun)
	if dryRun == nil && events.AutoInvoicingOff {
		d.metrics.IncDispatch(mode, obsmetrics.DispatchOutcomeAutoInvoicingOff)
		d.log.Info("invoice.dispatch.auto_invoicing_off", zap.String("account_id", accountID.String()))
		return nil, nil
	}

	now := d.clock.Now()
	r := &run{
		account:       account,
		events:        events,
		existing:      &existing,
		dryRun:        dryRun,
		isRescheduled: isRescheduled,
		now:           now,
	}
	target := account.LocalDate(now)
	if targetDate != nil {
		target = domain.ToLocalDate(*targetDate, time.UTC)
	}

	var inv *domain.Invoice
	switch {
	case dryRun == nil:
		res, err := d.processTarget(ctx, r, target)
		if err != nil {
			return nil, err
		}
		inv = res.invoice
		if wasParked {
			if err := d.parking.UnparkAccount(ctx, accountID); err != nil {
				d.log.Error("invoice.dispatch.unpark_failed", zap.String("account_id", accountID.String()), zap.Error(err))
			}
		}
	case dryRun.Type == domain.DryRunUpcomingInvoice:
		inv, err = d.upcomingInvoice(ctx, r)
	default:
		if targetDate == nil && dryRun.Type == domain.DryRunSubscriptionAction && dryRun.EffectiveDate != nil {
			target = account.LocalDate(*dryRun.EffectiveDate)
		}
		inv, err = d.simulate(ctx, r, target)
	}
	if err != nil {
		return nil, err
	}

	if dryRun != nil {
		if inv != nil && dryRun.IsNotification && inv.Balance().IsPositive() {
			d.post(ctx, domain.InvoiceNotificationEvent{
				AccountID:  accountID,
				TenantID:   account.TenantID,
				Amount:     inv.Balance(),
				Currency:   inv.Currency,
				TargetDate: inv.TargetDate,
				UserToken:  userToken(ctx),
			})
		}
		d.metrics.IncDispatch(mode, outcomeOf(inv))
	}
	return inv, nil
}

func modeOf(dryRun *domain.DryRunArguments) string {
	if dryRun != nil {
		return obsmetrics.ModeDryRun
	}
	return obsmetrics.ModeReal
}

func outcomeOf(inv *domain.Invoice) string {
	if inv == nil {
		return obsmetrics.DispatchOutcomeNullInvoice
	}
	return obsmetrics.DispatchOutcomeInvoice
}

func userToken(ctx context.Context) string {
	cc, _ := tenantctx.FromContext(ctx)
	return cc.UserToken
}

func (d *Dispatcher) post(ctx context.Context, event domain.Event) {
	if err := d.bus.Post(ctx, event); err != nil {
		d.metrics.IncEventBusFailure(string(event.EventType()))
		d.log.Error("invoice.dispatch.post_event_failed",
			zap.String("event", string(event.EventType())),
			zap.Error(err),
		)
	}
}
