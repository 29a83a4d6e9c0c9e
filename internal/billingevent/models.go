package billingevent

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"gorm.io/datatypes"
)

// AccountRow is the invoicing view of an account.
type AccountRow struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	TenantID              int64        `gorm:"not null;index"`
	Currency              string       `gorm:"type:text;not null"`
	TimeZone              string       `gorm:"type:text;not null;default:'UTC'"`
	BillCycleDayLocal     int          `gorm:"not null;default:0"`
	IsNotifiedForInvoices bool         `gorm:"not null;default:false"`
	CreatedAt             time.Time    `gorm:"not null"`
	UpdatedAt             time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (AccountRow) TableName() string { return "accounts" }

// EventRow is one billable subscription transition.
type EventRow struct {
	ID                snowflake.ID     `gorm:"primaryKey"`
	TenantID          int64            `gorm:"not null;index"`
	AccountID         snowflake.ID     `gorm:"not null;index:ix_subscription_billing_events_account,priority:1"`
	SubscriptionID    snowflake.ID     `gorm:"not null;index"`
	BundleID          snowflake.ID     `gorm:"not null;default:0"`
	EffectiveDate     time.Time        `gorm:"not null;index:ix_subscription_billing_events_account,priority:2"`
	Action            string           `gorm:"type:text;not null"`
	ProductName       string           `gorm:"type:text"`
	PlanName          string           `gorm:"type:text"`
	PhaseName         string           `gorm:"type:text"`
	Currency          string           `gorm:"type:text"`
	FixedPrice        *decimal.Decimal `gorm:"type:numeric(20,9)"`
	RecurringPrice    *decimal.Decimal `gorm:"type:numeric(20,9)"`
	BillingPeriodDays int              `gorm:"not null;default:0"`
	UsageUnits        datatypes.JSON   `gorm:"type:jsonb"`
	CreatedAt         time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (EventRow) TableName() string { return "subscription_billing_events" }

func rowToAccount(r AccountRow) domain.Account {
	return domain.Account{
		ID:                    r.ID,
		TenantID:              r.TenantID,
		Currency:              r.Currency,
		TimeZone:              r.TimeZone,
		BillCycleDayLocal:     r.BillCycleDayLocal,
		IsNotifiedForInvoices: r.IsNotifiedForInvoices,
	}
}

func rowToEvent(r EventRow) (domain.BillingEvent, error) {
	var units []string
	if len(r.UsageUnits) > 0 {
		if err := json.Unmarshal(r.UsageUnits, &units); err != nil {
			return domain.BillingEvent{}, err
		}
	}
	return domain.BillingEvent{
		ID:                r.ID,
		AccountID:         r.AccountID,
		SubscriptionID:    r.SubscriptionID,
		BundleID:          r.BundleID,
		EffectiveDate:     r.EffectiveDate.UTC(),
		Action:            domain.BillingAction(r.Action),
		ProductName:       r.ProductName,
		PlanName:          r.PlanName,
		PhaseName:         r.PhaseName,
		Currency:          r.Currency,
		FixedPrice:        r.FixedPrice,
		RecurringPrice:    r.RecurringPrice,
		BillingPeriodDays: r.BillingPeriodDays,
		UsageUnits:        units,
	}, nil
}

func eventToRow(tenantID int64, ev domain.BillingEvent, createdAt time.Time) (EventRow, error) {
	var units datatypes.JSON
	if len(ev.UsageUnits) > 0 {
		raw, err := json.Marshal(ev.UsageUnits)
		if err != nil {
			return EventRow{}, err
		}
		units = raw
	}
	return EventRow{
		ID:                ev.ID,
		TenantID:          tenantID,
		AccountID:         ev.AccountID,
		SubscriptionID:    ev.SubscriptionID,
		BundleID:          ev.BundleID,
		EffectiveDate:     ev.EffectiveDate.UTC(),
		Action:            string(ev.Action),
		ProductName:       ev.ProductName,
		PlanName:          ev.PlanName,
		PhaseName:         ev.PhaseName,
		Currency:          ev.Currency,
		FixedPrice:        ev.FixedPrice,
		RecurringPrice:    ev.RecurringPrice,
		BillingPeriodDays: ev.BillingPeriodDays,
		UsageUnits:        units,
		CreatedAt:         createdAt,
	}, nil
}
