package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/pkg/db"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRecorder writes future notifications inside the invoice transaction.
type NotificationRecorder interface {
	RecordAccountNotifications(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, tenantID int64, notifications domain.FutureAccountNotifications) error
}

type Params struct {
	fx.In

	DB            *gorm.DB
	GenID         *snowflake.Node
	Clock         clock.Clock
	Notifications NotificationRecorder
}

// InvoiceDao is the gorm implementation of domain.InvoiceDao.
type InvoiceDao struct {
	db            *gorm.DB
	genID         *snowflake.Node
	clock         clock.Clock
	notifications NotificationRecorder
}

func NewInvoiceDao(p Params) (*InvoiceDao, error) {
	if p.DB == nil || p.GenID == nil || p.Clock == nil || p.Notifications == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &InvoiceDao{db: p.DB, genID: p.GenID, clock: p.Clock, notifications: p.Notifications}, nil
}

// GetInvoicesByAccount loads the invoices of an account, only those targeting a date on or
// after cutoff when it is set.
func (r *InvoiceDao) GetInvoicesByAccount(ctx context.Context, accountID snowflake.ID, cutoff *time.Time) ([]domain.Invoice, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cutoff != nil {
		query = query.Where("target_date >= ?", *cutoff)
	}

	var rows []InvoiceRow
	if err := query.Order("invoice_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Invoice{}, nil
	}

	ids := lo.Map(rows, func(row InvoiceRow, _ int) snowflake.ID { return row.ID })
	var items []InvoiceItemRow
	if err := r.db.WithContext(ctx).
		Where("invoice_id IN ?", ids).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	byInvoice := lo.GroupBy(items, func(it InvoiceItemRow) snowflake.ID { return it.InvoiceID })

	out := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToInvoice(row, byInvoice[row.ID]))
	}
	return out, nil
}

func (r *InvoiceDao) GetByID(ctx context.Context, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var row InvoiceRow
	err := r.db.WithContext(ctx).Where("id = ?", invoiceID).Take(&row).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}

	var items []InvoiceItemRow
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	inv := rowToInvoice(row, items)
	return &inv, nil
}

// CreateInvoice persists the invoice, its items, items added to other invoices, tracking ids,
// future notifications and charged-through dates in one transaction.
func (r *InvoiceDao) CreateInvoice(ctx context.Context, in domain.CreateInvoiceInput) error {
	if in.Invoice == nil {
		return errors.New("invoice is required")
	}
	tenantID, _ := tenantctx.TenantID(ctx)
	now := r.clock.Now()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inv := range append([]domain.Invoice{*in.Invoice}, in.AdjustedInvoices...) {
			if err := r.upsertInvoice(tx, &inv, tenantID, now); err != nil {
				return err
			}
		}

		for _, tid := range in.TrackingIDs {
			row := TrackingIDRow{
				ID:             r.genID.Generate(),
				TenantID:       tenantID,
				TrackingID:     tid.TrackingID,
				InvoiceID:      lo.Ternary(tid.InvoiceID == 0, in.Invoice.ID, tid.InvoiceID),
				SubscriptionID: tid.SubscriptionID,
				UnitType:       tid.UnitType,
				RecordDate:     tid.RecordDate,
				CreatedAt:      now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if !in.Notifications.IsEmpty() {
			if err := r.notifications.RecordAccountNotifications(ctx, tx, in.Invoice.AccountID, tenantID, in.Notifications); err != nil {
				return err
			}
		}

		for subscriptionID, ctd := range in.ChargedThroughDates {
			if err := r.setChargedThroughDate(tx, tenantID, in.Invoice.AccountID, subscriptionID, ctd, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *InvoiceDao) upsertInvoice(tx *gorm.DB, inv *domain.Invoice, tenantID int64, now time.Time) error {
	row := invoiceToRow(inv, tenantID, now)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "target_date", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return err
	}

	// Items no longer on a reused invoice, such as a replaced credit adjustment, are removed.
	stale := tx.Where("invoice_id = ?", inv.ID)
	if len(inv.Items) > 0 {
		stale = stale.Where("id NOT IN ?", lo.Map(inv.Items, func(it domain.InvoiceItem, _ int) int64 {
			return it.ID.Int64()
		}))
	}
	if err := stale.Delete(&InvoiceItemRow{}).Error; err != nil {
		return err
	}
	if len(inv.Items) == 0 {
		return nil
	}

	items := make([]InvoiceItemRow, 0, len(inv.Items))
	for _, it := range inv.Items {
		it.InvoiceID = inv.ID
		if it.AccountID == 0 {
			it.AccountID = inv.AccountID
		}
		items = append(items, itemToRow(it, tenantID, now))
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "quantity", "amount", "item_details"}),
	}).Create(&items).Error
}

func (r *InvoiceDao) setChargedThroughDate(tx *gorm.DB, tenantID int64, accountID, subscriptionID snowflake.ID, ctd, now time.Time) error {
	var existing ChargedThroughDateRow
	err := tx.Where("subscription_id = ?", subscriptionID).Take(&existing).Error
	switch {
	case err == nil:
		if !ctd.After(existing.ChargedThroughDate) {
			return nil
		}
		return tx.Model(&ChargedThroughDateRow{}).
			Where("subscription_id = ?", subscriptionID).
			Updates(map[string]any{"charged_through_date": ctd, "updated_at": now}).Error
	case db.IsNotFound(err):
		return tx.Create(&ChargedThroughDateRow{
			SubscriptionID:     subscriptionID,
			TenantID:           tenantID,
			AccountID:          accountID,
			ChargedThroughDate: ctd,
			UpdatedAt:          now,
		}).Error
	default:
		return err
	}
}

// GetChargedThroughDate returns the charged-through date recorded for a subscription.
func (r *InvoiceDao) GetChargedThroughDate(ctx context.Context, subscriptionID snowflake.ID) (*time.Time, error) {
	var row ChargedThroughDateRow
	err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Take(&row).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ctd := row.ChargedThroughDate.UTC()
	return &ctd, nil
}

func (r *InvoiceDao) SetFutureAccountNotificationsForEmptyInvoice(ctx context.Context, accountID snowflake.ID, notifications domain.FutureAccountNotifications) error {
	if notifications.IsEmpty() {
		return nil
	}
	tenantID, _ := tenantctx.TenantID(ctx)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.notifications.RecordAccountNotifications(ctx, tx, accountID, tenantID, notifications)
	})
}

// DoCBAComplexity recomputes the credit balance adjustment of invoice against the snapshot.
func (r *InvoiceDao) DoCBAComplexity(_ context.Context, invoice *domain.Invoice, existing domain.AccountInvoices) (bool, error) {
	if invoice == nil {
		return false, nil
	}
	return domain.ApplyCBA(invoice, existing.Invoices, r.genID.Generate), nil
}

// AutoMigrate creates the invoice tables. Used for sqlite and development databases.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(&InvoiceRow{}, &InvoiceItemRow{}, &TrackingIDRow{}, &ChargedThroughDateRow{})
}
