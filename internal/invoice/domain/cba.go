package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AccountCredit sums the credit generated and consumed across the non-VOID invoices,
// ignoring the invoice identified by exclude.
func AccountCredit(invoices []Invoice, exclude snowflake.ID) decimal.Decimal {
	credit := decimal.Zero
	for _, inv := range invoices {
		if inv.ID == exclude || inv.Status == InvoiceStatusVoid {
			continue
		}
		for _, it := range inv.Items {
			if it.Type == ItemTypeCBAAdj {
				credit = credit.Add(it.Amount)
			}
		}
	}
	return credit
}

// ApplyCBA recomputes the credit balance adjustment of inv. A negative balance is turned into
// account credit; a positive balance consumes existing credit. Previous CBA items on inv are
// replaced. It reports whether inv's items changed.
func ApplyCBA(inv *Invoice, existing []Invoice, newItemID func() snowflake.ID) bool {
	if inv == nil {
		return false
	}
	previous := decimal.Zero
	count := 0
	for _, it := range inv.Items {
		if it.Type == ItemTypeCBAAdj {
			previous = previous.Add(it.Amount)
			count++
		}
	}

	balance := inv.Balance().Sub(previous)
	adjustment := decimal.Zero
	switch {
	case balance.IsNegative():
		adjustment = balance.Neg()
	case balance.IsPositive():
		credit := AccountCredit(existing, inv.ID)
		if credit.IsPositive() {
			adjustment = decimal.Min(credit, balance).Neg()
		}
	}

	if count <= 1 && previous.Equal(adjustment) {
		return false
	}

	inv.RemoveItemsOfType(ItemTypeCBAAdj)
	if !adjustment.IsZero() {
		inv.AddItems(InvoiceItem{
			ID:          newItemID(),
			Type:        ItemTypeCBAAdj,
			Description: "Credit balance adjustment",
			StartDate:   inv.InvoiceDate,
			Amount:      adjustment,
			Currency:    inv.Currency,
		})
	}
	return true
}
