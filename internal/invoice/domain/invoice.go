// Package domain contains the invoicing model shared by the dispatcher and its collaborators.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusCommitted InvoiceStatus = "COMMITTED"
	InvoiceStatusVoid      InvoiceStatus = "VOID"
)

// ItemType classifies an invoice line.
type ItemType string

const (
	ItemTypeFixed          ItemType = "FIXED"
	ItemTypeRecurring      ItemType = "RECURRING"
	ItemTypeUsage          ItemType = "USAGE"
	ItemTypeTax            ItemType = "TAX"
	ItemTypeCBAAdj         ItemType = "CBA_ADJ"
	ItemTypeCreditAdj      ItemType = "CREDIT_ADJ"
	ItemTypeItemAdj        ItemType = "ITEM_ADJ"
	ItemTypeRepairAdj      ItemType = "REPAIR_ADJ"
	ItemTypeExternalCharge ItemType = "EXTERNAL_CHARGE"
	ItemTypeParentSummary  ItemType = "PARENT_SUMMARY"
)

// AllowedFromPlugin reports whether a plugin may introduce an item of this type without
// referencing an existing item.
func (t ItemType) AllowedFromPlugin() bool {
	switch t {
	case ItemTypeExternalCharge, ItemTypeItemAdj, ItemTypeCreditAdj, ItemTypeTax:
		return true
	default:
		return false
	}
}

// AmountMutable reports whether a plugin may override the amount of an existing item.
func (t ItemType) AmountMutable() bool {
	return t.AllowedFromPlugin()
}

// ChargesSubscription reports whether the item moves a subscription charged-through date.
func (t ItemType) ChargesSubscription() bool {
	switch t {
	case ItemTypeFixed, ItemTypeRecurring, ItemTypeUsage:
		return true
	default:
		return false
	}
}

// InvoiceItem is a typed line belonging to exactly one invoice.
type InvoiceItem struct {
	ID             snowflake.ID
	InvoiceID      snowflake.ID
	AccountID      snowflake.ID
	SubscriptionID snowflake.ID
	BundleID       snowflake.ID
	Type           ItemType
	ProductName    string
	PlanName       string
	PhaseName      string
	UsageName      string
	Description    string
	StartDate      time.Time
	EndDate        *time.Time
	Amount         decimal.Decimal
	Rate           decimal.Decimal
	Quantity       decimal.Decimal
	Currency       string
	LinkedItemID   snowflake.ID
	ItemDetails    string
	CreatedAt      time.Time
}

func (it InvoiceItem) clone() InvoiceItem {
	out := it
	if it.EndDate != nil {
		end := *it.EndDate
		out.EndDate = &end
	}
	return out
}

// Invoice is mutable only while DRAFT or before its first commit.
type Invoice struct {
	ID          snowflake.ID
	AccountID   snowflake.ID
	Currency    string
	Status      InvoiceStatus
	InvoiceDate time.Time
	TargetDate  time.Time
	Items       []InvoiceItem
	CreatedAt   time.Time
}

// Clone deep copies the invoice and its items.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	out.Items = make([]InvoiceItem, len(inv.Items))
	for i, it := range inv.Items {
		out.Items[i] = it.clone()
	}
	return &out
}

// Balance sums every item amount, credit adjustments included.
func (inv *Invoice) Balance() decimal.Decimal {
	total := decimal.Zero
	if inv == nil {
		return total
	}
	for _, it := range inv.Items {
		total = total.Add(it.Amount)
	}
	return total
}

func (inv *Invoice) HasItems() bool {
	return inv != nil && len(inv.Items) > 0
}

// AddItems appends items, binding them to this invoice.
func (inv *Invoice) AddItems(items ...InvoiceItem) {
	for _, it := range items {
		it.InvoiceID = inv.ID
		if it.AccountID == 0 {
			it.AccountID = inv.AccountID
		}
		inv.Items = append(inv.Items, it)
	}
}

// ItemByID returns a pointer into Items for in-place updates.
func (inv *Invoice) ItemByID(id snowflake.ID) (*InvoiceItem, bool) {
	if inv == nil {
		return nil, false
	}
	for i := range inv.Items {
		if inv.Items[i].ID == id {
			return &inv.Items[i], true
		}
	}
	return nil, false
}

// RemoveItemsOfType drops every item of type t and reports how many were removed.
func (inv *Invoice) RemoveItemsOfType(t ItemType) int {
	kept := inv.Items[:0]
	removed := 0
	for _, it := range inv.Items {
		if it.Type == t {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	inv.Items = kept
	return removed
}
