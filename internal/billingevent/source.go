// Package billingevent reads accounts and their subscription billing events from the database.
package billingevent

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/tag"
	"github.com/smallbiznis/invoicing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Tags  tag.Store
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

// Source implements domain.BillingEventSource and domain.AccountSource.
type Source struct {
	db    *gorm.DB
	tags  tag.Store
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewSource(p Params) (*Source, error) {
	if p.DB == nil || p.Tags == nil || p.GenID == nil || p.Clock == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Source{
		db:    p.DB,
		tags:  p.Tags,
		genID: p.GenID,
		clock: p.Clock,
		log:   p.Log.Named("billingevent"),
	}, nil
}

func (s *Source) GetImmutableAccountByID(ctx context.Context, accountID snowflake.ID) (domain.Account, error) {
	row, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	return rowToAccount(row), nil
}

// GetBillingEventsForAccountAndUpdateAccountBCD returns the ordered billing events of an account
// with its auto-invoicing control tags. A real run also sets the bill cycle day of an account
// that has none from its first recurring event. Events are never filtered by cutoff: the
// generator needs the whole subscription history to rebuild billing periods.
func (s *Source) GetBillingEventsForAccountAndUpdateAccountBCD(ctx context.Context, accountID snowflake.ID, dryRun *domain.DryRunArguments, _ *time.Time) (domain.BillingEventSet, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return domain.BillingEventSet{}, err
	}

	var rows []EventRow
	err = s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("effective_date ASC, subscription_id ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return domain.BillingEventSet{}, fmt.Errorf("%w: load billing events: %w", domain.ErrCatalogUnavailable, err)
	}

	events := make([]domain.BillingEvent, 0, len(rows)+1)
	for _, r := range rows {
		ev, err := rowToEvent(r)
		if err != nil {
			return domain.BillingEventSet{}, fmt.Errorf("%w: billing event %s: %w", domain.ErrCatalogUnavailable, r.ID, err)
		}
		events = append(events, ev)
	}

	if dryRun != nil && dryRun.Type == domain.DryRunSubscriptionAction {
		ev, err := s.proposedEvent(events, *dryRun)
		if err != nil {
			return domain.BillingEventSet{}, err
		}
		events = append(events, ev)
	}

	set := domain.NewBillingEventSet(events)
	names, err := s.tags.ListDefinitionNames(ctx, tag.ObjectTypeAccount, accountID)
	if err != nil {
		return domain.BillingEventSet{}, fmt.Errorf("load account tags: %w", err)
	}
	set.AutoInvoicingOff = lo.Contains(names, tag.AutoInvoicingOff)
	set.AutoInvoicingDraft = lo.Contains(names, tag.AutoInvoicingDraft)
	set.AutoInvoicingReuseDraft = lo.Contains(names, tag.AutoInvoicingReuseDraft)

	if dryRun == nil && account.BillCycleDayLocal == 0 {
		if err := s.updateBCD(ctx, account, set); err != nil {
			return domain.BillingEventSet{}, err
		}
	}
	return set, nil
}

// proposedEvent builds the event a subscription action would create, priced like the latest
// event of the subscription effective before it.
func (s *Source) proposedEvent(events []domain.BillingEvent, args domain.DryRunArguments) (domain.BillingEvent, error) {
	effective := s.clock.Now()
	if args.EffectiveDate != nil {
		effective = *args.EffectiveDate
	}

	var base *domain.BillingEvent
	for i := range events {
		ev := events[i]
		if ev.SubscriptionID != args.SubscriptionID || ev.EffectiveDate.After(effective) {
			continue
		}
		base = &events[i]
	}
	if base == nil {
		return domain.BillingEvent{}, fmt.Errorf("%w: subscription %s has no billing event before %s",
			domain.ErrSubscriptionNotFound, args.SubscriptionID, effective.Format(time.RFC3339))
	}

	ev := *base
	ev.ID = s.genID.Generate()
	ev.EffectiveDate = effective.UTC()
	ev.Action = args.Action
	if args.Action == domain.BillingActionCancel {
		ev.FixedPrice = nil
		ev.RecurringPrice = nil
		ev.BillingPeriodDays = 0
		ev.UsageUnits = nil
	}
	return ev, nil
}

func (s *Source) updateBCD(ctx context.Context, account AccountRow, set domain.BillingEventSet) error {
	first, ok := lo.Find(set.Events, func(ev domain.BillingEvent) bool {
		return ev.RecurringPrice != nil && ev.BillingPeriodDays > 0
	})
	if !ok {
		return nil
	}
	bcd := rowToAccount(account).LocalDate(first.EffectiveDate).Day()
	err := s.db.WithContext(ctx).
		Model(&AccountRow{}).
		Where("id = ? AND bill_cycle_day_local = 0", account.ID).
		Updates(map[string]any{"bill_cycle_day_local": bcd, "updated_at": s.clock.Now()}).Error
	if err != nil {
		return fmt.Errorf("update bill cycle day: %w", err)
	}
	s.log.Info("billingevent.bcd_set", zap.String("account_id", account.ID.String()), zap.Int("bcd", bcd))
	return nil
}

// SaveAccount inserts or replaces an account.
func (s *Source) SaveAccount(ctx context.Context, account domain.Account) error {
	now := s.clock.Now()
	row := AccountRow{
		ID:                    account.ID,
		TenantID:              account.TenantID,
		Currency:              account.Currency,
		TimeZone:              lo.Ternary(account.TimeZone == "", "UTC", account.TimeZone),
		BillCycleDayLocal:     account.BillCycleDayLocal,
		IsNotifiedForInvoices: account.IsNotifiedForInvoices,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// AppendEvents records billing events of an account. Events without an id get one.
func (s *Source) AppendEvents(ctx context.Context, tenantID int64, events ...domain.BillingEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := s.clock.Now()
	rows := make([]EventRow, 0, len(events))
	for _, ev := range events {
		if ev.ID == 0 {
			ev.ID = s.genID.Generate()
		}
		row, err := eventToRow(tenantID, ev, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *Source) loadAccount(ctx context.Context, accountID snowflake.ID) (AccountRow, error) {
	var row AccountRow
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if err != nil {
		if db.IsNotFound(err) {
			return AccountRow{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
		}
		return AccountRow{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return row, nil
}

// AutoMigrate creates the account and billing event tables.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(&AccountRow{}, &EventRow{})
}
