package repository

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
)

// InvoiceRow is the persisted invoice header.
type InvoiceRow struct {
	ID          snowflake.ID         `gorm:"primaryKey"`
	TenantID    int64                `gorm:"not null;index"`
	AccountID   snowflake.ID         `gorm:"not null;index"`
	Currency    string               `gorm:"type:text;not null"`
	Status      domain.InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`
	InvoiceDate time.Time            `gorm:"not null"`
	TargetDate  time.Time            `gorm:"not null;index"`
	CreatedAt   time.Time            `gorm:"not null"`
	UpdatedAt   time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceRow) TableName() string { return "invoices" }

// InvoiceItemRow is a persisted invoice line.
type InvoiceItemRow struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	TenantID       int64           `gorm:"not null;index"`
	InvoiceID      snowflake.ID    `gorm:"not null;index"`
	AccountID      snowflake.ID    `gorm:"not null;index"`
	SubscriptionID snowflake.ID    `gorm:"index"`
	BundleID       snowflake.ID    `gorm:""`
	Type           domain.ItemType `gorm:"type:text;not null"`
	ProductName    string          `gorm:"type:text"`
	PlanName       string          `gorm:"type:text"`
	PhaseName      string          `gorm:"type:text"`
	UsageName      string          `gorm:"type:text"`
	Description    string          `gorm:"type:text"`
	StartDate      time.Time       `gorm:"not null"`
	EndDate        *time.Time      `gorm:""`
	Amount         decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	Rate           decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	Quantity       decimal.Decimal `gorm:"type:numeric(20,9);not null"`
	Currency       string          `gorm:"type:text;not null"`
	LinkedItemID   snowflake.ID    `gorm:"index"`
	ItemDetails    string          `gorm:"type:text"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceItemRow) TableName() string { return "invoice_items" }

// TrackingIDRow links an invoice to the usage records it billed.
type TrackingIDRow struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       int64        `gorm:"not null;index"`
	TrackingID     string       `gorm:"type:text;not null;index"`
	InvoiceID      snowflake.ID `gorm:"not null;index"`
	SubscriptionID snowflake.ID `gorm:"not null"`
	UnitType       string       `gorm:"type:text;not null"`
	RecordDate     time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (TrackingIDRow) TableName() string { return "invoice_tracking_ids" }

// ChargedThroughDateRow records how far a subscription has been invoiced.
type ChargedThroughDateRow struct {
	SubscriptionID     snowflake.ID `gorm:"primaryKey"`
	TenantID           int64        `gorm:"not null;index"`
	AccountID          snowflake.ID `gorm:"not null;index"`
	ChargedThroughDate time.Time    `gorm:"not null"`
	UpdatedAt          time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ChargedThroughDateRow) TableName() string { return "subscription_charged_through_dates" }

func invoiceToRow(inv *domain.Invoice, tenantID int64, now time.Time) InvoiceRow {
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return InvoiceRow{
		ID:          inv.ID,
		TenantID:    tenantID,
		AccountID:   inv.AccountID,
		Currency:    inv.Currency,
		Status:      inv.Status,
		InvoiceDate: inv.InvoiceDate,
		TargetDate:  inv.TargetDate,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
}

func itemToRow(it domain.InvoiceItem, tenantID int64, now time.Time) InvoiceItemRow {
	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return InvoiceItemRow{
		ID:             it.ID,
		TenantID:       tenantID,
		InvoiceID:      it.InvoiceID,
		AccountID:      it.AccountID,
		SubscriptionID: it.SubscriptionID,
		BundleID:       it.BundleID,
		Type:           it.Type,
		ProductName:    it.ProductName,
		PlanName:       it.PlanName,
		PhaseName:      it.PhaseName,
		UsageName:      it.UsageName,
		Description:    it.Description,
		StartDate:      it.StartDate,
		EndDate:        it.EndDate,
		Amount:         it.Amount,
		Rate:           it.Rate,
		Quantity:       it.Quantity,
		Currency:       it.Currency,
		LinkedItemID:   it.LinkedItemID,
		ItemDetails:    it.ItemDetails,
		CreatedAt:      createdAt,
	}
}

func rowToItem(r InvoiceItemRow) domain.InvoiceItem {
	item := domain.InvoiceItem{
		ID:             r.ID,
		InvoiceID:      r.InvoiceID,
		AccountID:      r.AccountID,
		SubscriptionID: r.SubscriptionID,
		BundleID:       r.BundleID,
		Type:           r.Type,
		ProductName:    r.ProductName,
		PlanName:       r.PlanName,
		PhaseName:      r.PhaseName,
		UsageName:      r.UsageName,
		Description:    r.Description,
		StartDate:      r.StartDate.UTC(),
		Amount:         r.Amount,
		Rate:           r.Rate,
		Quantity:       r.Quantity,
		Currency:       r.Currency,
		LinkedItemID:   r.LinkedItemID,
		ItemDetails:    r.ItemDetails,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.EndDate != nil {
		end := r.EndDate.UTC()
		item.EndDate = &end
	}
	return item
}

func rowToInvoice(r InvoiceRow, items []InvoiceItemRow) domain.Invoice {
	inv := domain.Invoice{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Currency:    r.Currency,
		Status:      r.Status,
		InvoiceDate: r.InvoiceDate.UTC(),
		TargetDate:  r.TargetDate.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		Items:       make([]domain.InvoiceItem, 0, len(items)),
	}
	for _, it := range items {
		inv.Items = append(inv.Items, rowToItem(it))
	}
	return inv
}
